package core

import (
	"time"
)

// TaskState is the lifecycle state of an AnalysisTask
type TaskState string

const (
	StatePending     TaskState = "PENDING"
	StateCollecting  TaskState = "COLLECTING"
	StateNormalizing TaskState = "NORMALIZING"
	StateClustering  TaskState = "CLUSTERING"
	StateGenerating  TaskState = "GENERATING"
	StateCompleted   TaskState = "COMPLETED"
	StateFailed      TaskState = "FAILED"
)

// stateOrder ranks the non-failure states along the pipeline
var stateOrder = map[TaskState]int{
	StatePending:     0,
	StateCollecting:  1,
	StateNormalizing: 2,
	StateClustering:  3,
	StateGenerating:  4,
	StateCompleted:   5,
}

// statePercent is the progress reported once a task has entered a state
var statePercent = map[TaskState]int{
	StatePending:     0,
	StateCollecting:  10,
	StateNormalizing: 40,
	StateClustering:  55,
	StateGenerating:  70,
	StateCompleted:   100,
}

// IsTerminal reports whether no further transition is allowed
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state
func (s TaskState) Valid() bool {
	_, ok := stateOrder[s]
	return ok || s == StateFailed
}

// Percent returns the progress percentage associated with entering s.
// FAILED keeps whatever progress the task had, so it reports -1.
func (s TaskState) Percent() int {
	if p, ok := statePercent[s]; ok {
		return p
	}
	return -1
}

// Rank returns the position of s in the pipeline, or -1 for FAILED
func (s TaskState) Rank() int {
	if r, ok := stateOrder[s]; ok {
		return r
	}
	return -1
}

// CanTransition reports whether a task in state from may move to state to.
// Moves go one step forward at a time, so COMPLETED is reachable only from
// GENERATING. FAILED is reachable from any non-terminal state.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() || !from.Valid() || !to.Valid() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to.Rank() == from.Rank()+1
}

// AnalysisTask is one asynchronous review analysis request
type AnalysisTask struct {
	ID         string    `json:"task_id"`
	Target     string    `json:"target"`               // Store name/address or a direct place URL
	MaxReviews int       `json:"max_reviews"`          // Upper bound on collected reviews
	Sources    []string  `json:"sources"`              // Review platforms to crawl
	State      TaskState `json:"state"`                // Current lifecycle state
	Stage      string    `json:"stage"`                // Human readable progress label
	Percent    int       `json:"percent"`              // 0-100, monotonically non-decreasing
	Error      string    `json:"error,omitempty"`      // Detail for FAILED tasks
	StoreName  string    `json:"store_name,omitempty"` // Resolved store name once collection finishes
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Progress is a snapshot of the polling-visible fields of a task
type Progress struct {
	State   TaskState `json:"state"`
	Stage   string    `json:"stage"`
	Percent int       `json:"percent"`
	Error   string    `json:"error,omitempty"`
}

// Progress returns the polling view of the task
func (t AnalysisTask) Progress() Progress {
	return Progress{
		State:   t.State,
		Stage:   t.Stage,
		Percent: t.Percent,
		Error:   t.Error,
	}
}

// RawReview is a single collected review.
// Text is always the normalized form of RawText.
type RawReview struct {
	TaskID      string     `json:"task_id" bson:"task_id"`
	Source      string     `json:"source" bson:"source"`
	NaturalKey  string     `json:"natural_key" bson:"natural_key"`
	RawText     string     `json:"raw_text" bson:"raw_text"`
	Text        string     `json:"text" bson:"text"`
	Rating      *int       `json:"rating,omitempty" bson:"rating,omitempty"` // 1-5 stars, nil when the card shows none
	DateRaw     string     `json:"date_raw,omitempty" bson:"date_raw,omitempty"`
	AuthoredAt  *time.Time `json:"authored_at,omitempty" bson:"authored_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at" bson:"collected_at"`
}

// Eligible reports whether the review can take part in clustering
func (r RawReview) Eligible() bool {
	return r.Text != ""
}

const (
	// NoiseClusterID groups reviews the clustering step could not place
	NoiseClusterID = -1
	// VolumeClusterID marks personas built from the whole review set
	VolumeClusterID = -2
)

// ReviewCluster is a group of topically similar reviews
type ReviewCluster struct {
	ID       int      `json:"id"`       // Dense 0..k-1, or NoiseClusterID
	Keywords []string `json:"keywords"` // Top-N representative terms
	Members  []int    `json:"members"`  // Indices into the clustered text slice
}

// Size returns the number of member reviews
func (c ReviewCluster) Size() int {
	return len(c.Members)
}

// IsNoise reports whether the cluster is the outlier bucket
func (c ReviewCluster) IsNoise() bool {
	return c.ID == NoiseClusterID
}

// Strategy selects how personas are generated
type Strategy string

const (
	StrategyVolumeBased  Strategy = "VOLUME_BASED"
	StrategyClusterBased Strategy = "CLUSTER_BASED"
)

// JourneyStep is one stage of a persona's visit
type JourneyStep struct {
	Stage       string `json:"stage" validate:"required,oneof=explore visit eat share"`
	Label       string `json:"label" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Thought     string `json:"thought"`
	Sentiment   string `json:"sentiment" validate:"omitempty,oneof=good neutral pain"`
	Touchpoint  string `json:"touchpoint"`
	PainPoint   string `json:"pain_point,omitempty"`
	Opportunity string `json:"opportunity,omitempty"`
}

// Persona is a synthesized customer archetype
type Persona struct {
	Label                string        `json:"label" validate:"required"`
	Characteristics      []string      `json:"characteristics" validate:"required,min=1,dive,required"`
	Preferences          []string      `json:"preferences" validate:"required,min=1,dive,required"`
	Goals                []string      `json:"goals" validate:"required,min=1,dive,required"`
	PainPoints           []string      `json:"pain_points" validate:"required,min=1,dive,required"`
	Tags                 []string      `json:"tags,omitempty"`
	Summary              string        `json:"summary,omitempty"`
	Journey              []JourneyStep `json:"journey,omitempty" validate:"omitempty,dive"`
	ActionRecommendation string        `json:"action_recommendation,omitempty"`
	AvatarURL            string        `json:"avatar_url,omitempty"`
	SourceCluster        int           `json:"source_cluster"`
	Share                float64       `json:"share"` // Percent of reviews this persona represents
}

// AnalysisResult is the read-only output of a completed task
type AnalysisResult struct {
	TaskID             string          `json:"task_id"`
	Target             string          `json:"target"`
	StoreName          string          `json:"store_name"`
	StoreSummary       string          `json:"store_summary"`
	ReviewCount        int             `json:"review_count"`
	AverageRating      float64         `json:"average_rating"`
	RatingDistribution map[int]int     `json:"rating_distribution,omitempty"`
	SourceCounts       map[string]int  `json:"source_counts,omitempty"`
	Keywords           []string        `json:"keywords,omitempty"`
	Strategy           Strategy        `json:"strategy"`
	Clusters           []ReviewCluster `json:"clusters,omitempty"`
	Personas           []Persona       `json:"personas"`
	CreatedAt          time.Time       `json:"created_at"`
}

// TaskLog is an append-only progress or diagnostic record for a task
type TaskLog struct {
	TaskID  string    `json:"task_id" bson:"task_id"`
	Level   string    `json:"level" bson:"level"`
	State   TaskState `json:"state" bson:"state"`
	Message string    `json:"message" bson:"message"`
	Time    time.Time `json:"time" bson:"time"`
}

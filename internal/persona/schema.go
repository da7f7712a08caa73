package persona

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"google.golang.org/genai"

	"pulse/internal/core"
)

// journeyStages are the four steps of a restaurant visit, in order
var journeyStages = []string{"explore", "visit", "eat", "share"}

// personaReply is the untrusted shape the model is asked to return
type personaReply struct {
	Nickname             string             `json:"nickname" validate:"required"`
	Characteristics      []string           `json:"characteristics" validate:"required,min=1,dive,required"`
	Preferences          []string           `json:"preferences" validate:"required,min=1,dive,required"`
	Goals                []string           `json:"goals" validate:"required,min=1,dive,required"`
	PainPoints           []string           `json:"pain_points" validate:"required,min=1,dive,required"`
	Tags                 []string           `json:"tags"`
	Summary              string             `json:"summary"`
	Journey              []core.JourneyStep `json:"journey" validate:"omitempty,dive"`
	ActionRecommendation string             `json:"action_recommendation"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// parsePersona decodes and validates a model reply. Any failure wraps
// core.ErrGenerationParse.
func parsePersona(raw string) (core.Persona, error) {
	body := extractJSON(raw)
	if body == "" {
		return core.Persona{}, fmt.Errorf("%w: reply contains no JSON object", core.ErrGenerationParse)
	}

	var reply personaReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return core.Persona{}, fmt.Errorf("%w: %v", core.ErrGenerationParse, err)
	}
	reply.trim()
	if err := validate.Struct(reply); err != nil {
		return core.Persona{}, fmt.Errorf("%w: %v", core.ErrGenerationParse, err)
	}

	return core.Persona{
		Label:                reply.Nickname,
		Characteristics:      reply.Characteristics,
		Preferences:          reply.Preferences,
		Goals:                reply.Goals,
		PainPoints:           reply.PainPoints,
		Tags:                 reply.Tags,
		Summary:              reply.Summary,
		Journey:              orderJourney(reply.Journey),
		ActionRecommendation: reply.ActionRecommendation,
	}, nil
}

// trim drops blank list entries and surrounding whitespace
func (r *personaReply) trim() {
	r.Nickname = strings.TrimSpace(r.Nickname)
	r.Characteristics = compact(r.Characteristics)
	r.Preferences = compact(r.Preferences)
	r.Goals = compact(r.Goals)
	r.PainPoints = compact(r.PainPoints)
	r.Tags = compact(r.Tags)
	r.Summary = strings.TrimSpace(r.Summary)
	r.ActionRecommendation = strings.TrimSpace(r.ActionRecommendation)
	for i := range r.Journey {
		r.Journey[i].Stage = strings.ToLower(strings.TrimSpace(r.Journey[i].Stage))
		r.Journey[i].Sentiment = strings.ToLower(strings.TrimSpace(r.Journey[i].Sentiment))
	}
}

func compact(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// orderJourney sorts steps into explore, visit, eat, share order
func orderJourney(steps []core.JourneyStep) []core.JourneyStep {
	if len(steps) == 0 {
		return nil
	}
	out := make([]core.JourneyStep, 0, len(steps))
	for _, stage := range journeyStages {
		for _, s := range steps {
			if s.Stage == stage {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// extractJSON returns the outermost JSON object in s, tolerating code fences
// and prose around it
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func stringList(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: description,
		Items:       &genai.Schema{Type: genai.TypeString},
	}
}

// responseSchema constrains the model to the persona reply shape
func responseSchema() *genai.Schema {
	step := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"stage":       {Type: genai.TypeString, Enum: journeyStages},
			"label":       {Type: genai.TypeString},
			"action":      {Type: genai.TypeString},
			"thought":     {Type: genai.TypeString},
			"sentiment":   {Type: genai.TypeString, Enum: []string{"good", "neutral", "pain"}},
			"touchpoint":  {Type: genai.TypeString},
			"pain_point":  {Type: genai.TypeString},
			"opportunity": {Type: genai.TypeString},
		},
		Required: []string{"stage", "label", "action"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"nickname":              {Type: genai.TypeString, Description: "그룹을 대표하는 별명"},
			"characteristics":       stringList("고객 특성"),
			"preferences":           stringList("선호 사항"),
			"goals":                 stringList("방문 목적"),
			"pain_points":           stringList("불편 사항"),
			"tags":                  stringList("특징 태그"),
			"summary":               {Type: genai.TypeString},
			"journey":               {Type: genai.TypeArray, Items: step},
			"action_recommendation": {Type: genai.TypeString},
		},
		Required: []string{"nickname", "characteristics", "preferences", "goals", "pain_points"},
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pulse/internal/clustering"
	"pulse/internal/collector"
	"pulse/internal/core"
	"pulse/internal/normalize"
	"pulse/internal/persona"
)

type recordingReporter struct {
	states   []core.TaskState
	progress []int
	resolved string
	logs     []string
}

func (r *recordingReporter) Enter(ctx context.Context, state core.TaskState, stage string) error {
	r.states = append(r.states, state)
	return nil
}

func (r *recordingReporter) Progress(ctx context.Context, stage string, percent int) {
	r.progress = append(r.progress, percent)
}

func (r *recordingReporter) Resolved(ctx context.Context, storeName string) { r.resolved = storeName }

func (r *recordingReporter) Log(ctx context.Context, level, message string) {
	r.logs = append(r.logs, level+": "+message)
}

type fakeCollector struct {
	reviews []core.RawReview
	dropped map[string]string
	err     error
	calls   int
}

func (f *fakeCollector) Collect(ctx context.Context, req collector.Request) (*collector.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &collector.Result{Reviews: f.reviews, StoreName: "할매국밥", Dropped: f.dropped}, nil
}

type fakeReader struct{ reviews []core.RawReview }

func (f fakeReader) Reviews(ctx context.Context, taskID string) ([]core.RawReview, error) {
	return f.reviews, nil
}

type fakeClusterer struct {
	result *clustering.Result
	err    error
	texts  []string
}

func (f *fakeClusterer) Cluster(ctx context.Context, texts []string, targetK int) (*clustering.Result, error) {
	f.texts = texts
	return f.result, f.err
}

type fakeGenerator struct {
	req     persona.Request
	outcome *persona.Outcome
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, req persona.Request) (*persona.Outcome, error) {
	f.req = req
	return f.outcome, f.err
}

func (f *fakeGenerator) Summarize(ctx context.Context, store persona.StoreContext, reviews []core.RawReview) string {
	return store.Name + " 요약"
}

func reviews(n int) []core.RawReview {
	out := make([]core.RawReview, n)
	for i := range out {
		raw := fmt.Sprintf("국물이 진해요 %d", i)
		out[i] = core.RawReview{TaskID: "t1", Source: "naver", NaturalKey: fmt.Sprint(i), RawText: raw, Text: normalize.Normalize(raw)}
	}
	return out
}

func twoTopics(n int) *clustering.Result {
	res := &clustering.Result{Assignments: make([]int, n)}
	a := core.ReviewCluster{ID: 0, Keywords: []string{"국물"}}
	b := core.ReviewCluster{ID: 1, Keywords: []string{"주차"}}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			a.Members = append(a.Members, i)
		} else {
			b.Members = append(b.Members, i)
			res.Assignments[i] = 1
		}
	}
	res.Clusters = []core.ReviewCluster{a, b}
	return res
}

func onePersona(cluster int) *persona.Outcome {
	return &persona.Outcome{Personas: []core.Persona{{Label: "국물파", SourceCluster: cluster}}, Failures: map[int]error{}}
}

func pendingTask() core.AnalysisTask {
	return core.AnalysisTask{ID: "t1", Target: "할매국밥 부산", MaxReviews: 50, State: core.StatePending}
}

func TestRun_ClusterStrategy(t *testing.T) {
	col := &fakeCollector{reviews: reviews(12), dropped: map[string]string{"kakao": "no hit"}}
	cl := &fakeClusterer{result: twoTopics(12)}
	gen := &fakeGenerator{outcome: onePersona(0)}
	rep := &recordingReporter{}

	p := NewPipeline(col, nil, cl, gen, &Config{MinReviews: 10, StoreKeywords: 3})
	result, err := p.Run(context.Background(), pendingTask(), rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []core.TaskState{core.StateCollecting, core.StateNormalizing, core.StateClustering, core.StateGenerating}
	if fmt.Sprint(rep.states) != fmt.Sprint(want) {
		t.Errorf("states %v, want %v", rep.states, want)
	}
	if rep.resolved != "할매국밥" {
		t.Errorf("resolved = %q", rep.resolved)
	}
	if len(cl.texts) != 12 || cl.texts[3] != normalize.Normalize("국물이 진해요 3") {
		t.Errorf("clusterer got unexpected texts %v", cl.texts)
	}
	if gen.req.Strategy != core.StrategyClusterBased || len(gen.req.Clusters) != 2 {
		t.Fatalf("unexpected generation request %+v", gen.req)
	}
	if len(gen.req.Clusters[1].Reviews) != 6 || gen.req.Clusters[1].Reviews[0].NaturalKey != "1" {
		t.Errorf("cluster evidence not aligned with reviews")
	}
	if result.StoreSummary != "할매국밥 요약" || result.ReviewCount != 12 || len(result.Clusters) != 2 {
		t.Errorf("unexpected result %+v", result)
	}

	dropLogged := false
	for _, l := range rep.logs {
		if l == "warn: source kakao dropped: no hit" {
			dropLogged = true
		}
	}
	if !dropLogged {
		t.Errorf("dropped source not journaled: %v", rep.logs)
	}
}

func TestRun_InsufficientDataSelectsVolume(t *testing.T) {
	col := &fakeCollector{reviews: reviews(12)}
	cl := &fakeClusterer{err: fmt.Errorf("%w: 4 eligible texts", core.ErrInsufficientData)}
	gen := &fakeGenerator{outcome: onePersona(core.VolumeClusterID)}

	p := NewPipeline(col, nil, cl, gen, &Config{MinReviews: 10})
	result, err := p.Run(context.Background(), pendingTask(), &recordingReporter{})
	if err != nil {
		t.Fatalf("insufficient data is not a failure: %v", err)
	}
	if result.Strategy != core.StrategyVolumeBased || gen.req.Clusters != nil {
		t.Errorf("expected volume strategy without clusters, got %s", result.Strategy)
	}
}

func TestRun_NoTopicsSelectsVolume(t *testing.T) {
	col := &fakeCollector{reviews: reviews(12)}
	noise := &clustering.Result{Clusters: []core.ReviewCluster{{ID: core.NoiseClusterID, Members: []int{0, 1}}}}
	gen := &fakeGenerator{outcome: onePersona(core.VolumeClusterID)}

	p := NewPipeline(col, nil, &fakeClusterer{result: noise}, gen, &Config{MinReviews: 10})
	result, err := p.Run(context.Background(), pendingTask(), &recordingReporter{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Strategy != core.StrategyVolumeBased {
		t.Errorf("strategy = %s", result.Strategy)
	}
}

func TestRun_StageErrors(t *testing.T) {
	tests := []struct {
		name    string
		col     *fakeCollector
		cl      *fakeClusterer
		gen     *fakeGenerator
		wantErr error
	}{
		{
			name:    "resolution",
			col:     &fakeCollector{err: fmt.Errorf("%w: nothing", core.ErrResolution)},
			cl:      &fakeClusterer{},
			gen:     &fakeGenerator{},
			wantErr: core.ErrResolution,
		},
		{
			name:    "generation exhausted",
			col:     &fakeCollector{reviews: reviews(12)},
			cl:      &fakeClusterer{result: twoTopics(12)},
			gen:     &fakeGenerator{outcome: &persona.Outcome{}, err: core.ErrGenerationExhausted},
			wantErr: core.ErrGenerationExhausted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(tt.col, nil, tt.cl, tt.gen, nil)
			if _, err := p.Run(context.Background(), pendingTask(), &recordingReporter{}); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	p := NewPipeline(&fakeCollector{reviews: reviews(12)}, nil, &fakeClusterer{err: errors.New("boom")}, &fakeGenerator{}, nil)
	if _, err := p.Run(context.Background(), pendingTask(), &recordingReporter{}); err == nil || errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("unexpected clustering fault should fail the run, got %v", err)
	}
}

func TestRun_ResumeSkipsCollection(t *testing.T) {
	col := &fakeCollector{reviews: reviews(12)}
	gen := &fakeGenerator{outcome: onePersona(0)}
	p := NewPipeline(col, fakeReader{reviews: reviews(11)}, &fakeClusterer{result: twoTopics(11)}, gen, &Config{MinReviews: 10})

	task := pendingTask()
	task.State = core.StateGenerating
	result, err := p.Run(context.Background(), task, &recordingReporter{})
	if err != nil {
		t.Fatal(err)
	}
	if col.calls != 0 {
		t.Error("collector must not run for a task past collection")
	}
	if result.ReviewCount != 11 || result.StoreName != task.Target {
		t.Errorf("unexpected resumed result %+v", result)
	}
}

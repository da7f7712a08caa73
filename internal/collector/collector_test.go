package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse/internal/core"
	"pulse/internal/normalize"
)

// fakeSite serves canned page snapshots. Each scroll advances to the next snapshot.
type fakeSite struct {
	mu        sync.Mutex
	pages     map[string][]string
	redirects map[string]string
	failReads int // number of HTML reads that fail before succeeding
	loads     int
	reads     int
}

func (s *fakeSite) NewPage(ctx context.Context) (Page, error) {
	return &fakePage{site: s}, nil
}

func (s *fakeSite) Close() {}

type fakePage struct {
	site *fakeSite
	url  string
	idx  int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.url = url
	if to, ok := p.site.redirects[url]; ok {
		p.url = to
	}
	p.idx = 0
	return nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	return p.url, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.reads++
	if p.site.failReads > 0 {
		p.site.failReads--
		return "", errors.New("connection reset")
	}
	snaps := p.site.pages[p.url]
	if len(snaps) == 0 {
		return "<html><body></body></html>", nil
	}
	if p.idx >= len(snaps) {
		return snaps[len(snaps)-1], nil
	}
	return snaps[p.idx], nil
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.loads++
	p.idx++
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector, text string) (bool, error) {
	return false, nil
}

func (p *fakePage) Close() {}

type memorySink struct {
	mu      sync.Mutex
	reviews []core.RawReview
	err     error
}

func (s *memorySink) AppendReview(ctx context.Context, r core.RawReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reviews = append(s.reviews, r)
	return nil
}

const naverTarget = "https://m.place.naver.com/restaurant/1234/home"

var naverReviews = "https://m.place.naver.com/restaurant/1234/review/visitor"

func naverCard(nick, body string, rating int) string {
	return fmt.Sprintf(`<li><div>%s</div><div>리뷰 12</div><div>%s</div><div>%d점</div><span>2024.3.2.토</span></li>`, nick, body, rating)
}

func naverPage(cards ...string) string {
	return `<html><head><meta property="og:title" content="할매국밥 : 네이버"></head><body><ul>` +
		strings.Join(cards, "") + `</ul></body></html>`
}

func testConfig() Config {
	return Config{
		MaxLoadAttempts: 10,
		StagnationLimit: 2,
		MaxRetries:      3,
		RetryBaseDelay:  time.Millisecond,
		CallTimeout:     time.Second,
		KeyPolicy:       TextKey,
	}
}

var (
	bodyA = "국물이 진하고 고기가 정말 많아요"
	bodyB = "직원분들이 친절하고 매장이 깨끗해요"
	bodyC = "웨이팅이 길었지만 기다릴 만한 맛이에요"
	bodyD = "주차가 불편해서 다음엔 대중교통으로 올게요"
	bodyE = "김치가 맛있어서 따로 포장해 갔습니다"
)

func TestCollect_DeduplicatesAndNormalizes(t *testing.T) {
	first := naverPage(naverCard("손님1", bodyA, 5), naverCard("손님2", bodyB, 4), naverCard("손님3", bodyC, 5))
	second := naverPage(
		naverCard("손님1", bodyA, 5), naverCard("손님2", bodyB, 4), naverCard("손님3", bodyC, 5),
		naverCard("손님4", bodyD, 3), naverCard("손님6", bodyA, 5), naverCard("손님5", bodyE, 4),
	)
	site := &fakeSite{pages: map[string][]string{naverReviews: {first, second}}}
	sink := &memorySink{}
	c := New(site, DefaultSources(), sink, testConfig())

	res, err := c.Collect(context.Background(), Request{TaskID: "t1", Target: naverTarget, MaxReviews: 50, Sources: []string{NaverName}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if len(res.Reviews) != 5 {
		t.Fatalf("expected 5 unique reviews, got %d", len(res.Reviews))
	}
	if res.StoreName != "할매국밥" {
		t.Errorf("expected store name from og:title, got %q", res.StoreName)
	}

	keys := make(map[string]bool)
	for _, r := range res.Reviews {
		if keys[r.NaturalKey] {
			t.Errorf("duplicate natural key %s", r.NaturalKey)
		}
		keys[r.NaturalKey] = true
		if r.Text != normalize.Normalize(r.RawText) {
			t.Errorf("text %q is not the normalized form of %q", r.Text, r.RawText)
		}
		if r.TaskID != "t1" || r.Source != NaverName {
			t.Errorf("unexpected review tags: %+v", r)
		}
		if strings.Contains(r.RawText, "리뷰 12") || strings.Contains(r.RawText, "2024.3.2") {
			t.Errorf("boilerplate left in raw text: %q", r.RawText)
		}
		if r.Rating == nil {
			t.Errorf("expected rating for %q", r.RawText)
		}
		if r.AuthoredAt == nil {
			t.Errorf("expected parsed date for %q", r.RawText)
		}
	}

	if len(sink.reviews) != 5 {
		t.Errorf("expected 5 persisted reviews, got %d", len(sink.reviews))
	}
}

func TestCollect_StopsAtMaxReviews(t *testing.T) {
	page := naverPage(naverCard("a", bodyA, 5), naverCard("b", bodyB, 4), naverCard("c", bodyC, 3))
	site := &fakeSite{pages: map[string][]string{naverReviews: {page}}}
	c := New(site, DefaultSources(), nil, testConfig())

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 2, Sources: []string{NaverName}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(res.Reviews) != 2 {
		t.Errorf("expected exactly 2 reviews, got %d", len(res.Reviews))
	}
	if site.loads != 0 {
		t.Errorf("expected no load-more once the limit is reached, got %d", site.loads)
	}
}

func TestCollect_StopsOnStagnation(t *testing.T) {
	page := naverPage(naverCard("a", bodyA, 5), naverCard("b", bodyB, 4))
	site := &fakeSite{pages: map[string][]string{naverReviews: {page}}}
	c := New(site, DefaultSources(), nil, testConfig())

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 100, Sources: []string{NaverName}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(res.Reviews) != 2 {
		t.Errorf("expected 2 reviews, got %d", len(res.Reviews))
	}
	// first read adds reviews, then two loads yield nothing new
	if site.loads != 2 {
		t.Errorf("expected 2 load attempts before stagnation stop, got %d", site.loads)
	}
}

func TestCollect_LoadAttemptCeiling(t *testing.T) {
	var snaps []string
	var cards []string
	for i := 0; i < 50; i++ {
		cards = append(cards, naverCard(fmt.Sprintf("n%d", i), fmt.Sprintf("%d번 메뉴가 특히 맛있었어요 추천합니다", i), 5))
		snaps = append(snaps, naverPage(cards...))
	}
	site := &fakeSite{pages: map[string][]string{naverReviews: snaps}}
	cfg := testConfig()
	cfg.MaxLoadAttempts = 3
	c := New(site, DefaultSources(), nil, cfg)

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 100, Sources: []string{NaverName}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if site.loads != 3 {
		t.Errorf("expected load attempts capped at 3, got %d", site.loads)
	}
	if len(res.Reviews) != 4 {
		t.Errorf("expected 4 reviews after 3 loads, got %d", len(res.Reviews))
	}
}

func TestCollect_RetriesTransientReads(t *testing.T) {
	page := naverPage(naverCard("a", bodyA, 5))
	site := &fakeSite{pages: map[string][]string{naverReviews: {page}}, failReads: 2}
	c := New(site, DefaultSources(), nil, testConfig())

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 10, Sources: []string{NaverName}})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if len(res.Reviews) != 1 {
		t.Errorf("expected 1 review, got %d", len(res.Reviews))
	}
}

func TestCollect_OnlySourceExhaustsRetries(t *testing.T) {
	site := &fakeSite{pages: map[string][]string{}, failReads: 100}
	cfg := testConfig()
	cfg.MaxRetries = 1
	c := New(site, DefaultSources(), nil, cfg)

	_, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 10, Sources: []string{NaverName}})
	if !errors.Is(err, core.ErrTransientFetch) {
		t.Fatalf("expected ErrTransientFetch, got %v", err)
	}
}

func TestCollect_DropsFailedSourceWhenOthersSucceed(t *testing.T) {
	page := naverPage(naverCard("a", bodyA, 5), naverCard("b", bodyB, 4))
	site := &fakeSite{pages: map[string][]string{naverReviews: {page}}}
	c := New(site, DefaultSources(), nil, testConfig())

	// A naver URL cannot be resolved on kakao
	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 10, Sources: []string{NaverName, KakaoName}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(res.Reviews) != 2 {
		t.Errorf("expected naver reviews only, got %d", len(res.Reviews))
	}
	if _, ok := res.Dropped[KakaoName]; !ok {
		t.Errorf("expected kakao to be reported as dropped, got %v", res.Dropped)
	}
	if res.PerSource[NaverName] != 2 {
		t.Errorf("expected 2 naver reviews, got %v", res.PerSource)
	}
}

// listSource serves a fixed list of review bodies on its first read.
// LoadMore fails permanently when broken is set.
type listSource struct {
	name   string
	bodies []string
	broken bool
}

func (s *listSource) Name() string { return s.name }

func (s *listSource) Resolve(ctx context.Context, page Page, target string) (Place, error) {
	return Place{ID: s.name, Name: "할매국밥", ReviewURL: "https://" + s.name + ".test/reviews"}, nil
}

func (s *listSource) LoadMore(ctx context.Context, page Page) error {
	if s.broken {
		return errors.New("load more button detached")
	}
	return page.ScrollToBottom(ctx)
}

func (s *listSource) Parse(html string) ([]Entry, string, error) {
	entries := make([]Entry, len(s.bodies))
	for i, body := range s.bodies {
		entries[i] = Entry{Text: body}
	}
	return entries, "", nil
}

func TestCollect_DroppedSourceDoesNotConsumeCap(t *testing.T) {
	flaky := &listSource{name: "flaky", bodies: []string{bodyA, bodyB, bodyC}, broken: true}
	good := &listSource{name: "good", bodies: []string{bodyA, bodyB, bodyC, bodyD, bodyE}}
	sink := &memorySink{}
	cfg := testConfig()
	cfg.MaxRetries = 1
	c := New(&fakeSite{}, map[string]Source{"flaky": flaky, "good": good}, sink, cfg)

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: "할매국밥", MaxReviews: 5, Sources: []string{"flaky", "good"}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := res.Dropped["flaky"]; !ok {
		t.Fatalf("expected flaky to be dropped, got %v", res.Dropped)
	}
	if len(res.Reviews) != 5 || res.PerSource["good"] != 5 {
		t.Errorf("expected all 5 reviews from the good source, got %d (%v)", len(res.Reviews), res.PerSource)
	}
	if len(sink.reviews) != len(res.Reviews) {
		t.Errorf("sink holds %d reviews, result holds %d", len(sink.reviews), len(res.Reviews))
	}
	for _, r := range sink.reviews {
		if r.Source != "good" {
			t.Errorf("review from dropped source %q was persisted", r.Source)
		}
	}
}

func TestCollect_MergesSourcesUnderCap(t *testing.T) {
	first := &listSource{name: "first", bodies: []string{bodyA, bodyB, bodyC}}
	second := &listSource{name: "second", bodies: []string{bodyC, bodyD, bodyE}}
	sink := &memorySink{}
	c := New(&fakeSite{}, map[string]Source{"first": first, "second": second}, sink, testConfig())

	res, err := c.Collect(context.Background(), Request{TaskID: "t", Target: "할매국밥", MaxReviews: 4, Sources: []string{"first", "second"}})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(res.Reviews) != 4 {
		t.Fatalf("expected 4 reviews, got %d", len(res.Reviews))
	}
	if res.PerSource["first"] != 3 || res.PerSource["second"] != 1 {
		t.Errorf("unexpected per-source counts %v", res.PerSource)
	}
	if len(sink.reviews) != 4 {
		t.Errorf("expected 4 persisted reviews, got %d", len(sink.reviews))
	}
}

func TestCollect_AllSourcesUnresolvable(t *testing.T) {
	site := &fakeSite{pages: map[string][]string{}}
	c := New(site, DefaultSources(), nil, testConfig())

	_, err := c.Collect(context.Background(), Request{TaskID: "t", Target: "https://example.com/store", MaxReviews: 10, Sources: []string{NaverName, KakaoName}})
	if !errors.Is(err, core.ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestCollect_StorageFailureIsFatal(t *testing.T) {
	page := naverPage(naverCard("a", bodyA, 5))
	site := &fakeSite{pages: map[string][]string{naverReviews: {page}}}
	sink := &memorySink{err: errors.New("disk full")}
	c := New(site, DefaultSources(), sink, testConfig())

	_, err := c.Collect(context.Background(), Request{TaskID: "t", Target: naverTarget, MaxReviews: 10, Sources: []string{NaverName}})
	if !errors.Is(err, core.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestCollect_UnknownSource(t *testing.T) {
	c := New(&fakeSite{}, DefaultSources(), nil, testConfig())
	if _, err := c.Collect(context.Background(), Request{Target: "x", MaxReviews: 1, Sources: []string{"yelp"}}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestReviewSetLimit(t *testing.T) {
	s := newReviewSet(2)
	if ok, full := s.Add("a"); !ok || full {
		t.Errorf("first add: ok=%v full=%v", ok, full)
	}
	if ok, _ := s.Add("a"); ok {
		t.Error("duplicate key must not be added")
	}
	if ok, full := s.Add("b"); !ok || !full {
		t.Errorf("second add: ok=%v full=%v", ok, full)
	}
	if ok, full := s.Add("c"); ok || !full {
		t.Errorf("add past limit: ok=%v full=%v", ok, full)
	}
	if s.Size() != 2 {
		t.Errorf("expected size 2, got %d", s.Size())
	}
}

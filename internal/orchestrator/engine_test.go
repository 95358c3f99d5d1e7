package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/ratelimit"
	"github.com/valpere/batchtran/internal/translator"
)

type mockService struct {
	nameVal       string
	langs         translator.LangMap
	translateFunc func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error)
	callCount     atomic.Int32

	mu       sync.Mutex
	requests []translator.TranslateRequest
}

func (m *mockService) Name() string {
	if m.nameVal == "" {
		return "mock"
	}
	return m.nameVal
}

func (m *mockService) Languages() translator.LangMap { return m.langs }

func (m *mockService) IsAvailable(ctx context.Context) error { return nil }

func (m *mockService) Translate(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.translateFunc != nil {
		return m.translateFunc(ctx, req)
	}
	return &translator.ServiceResult{ServiceName: m.Name(), TranslatedText: "[" + req.TargetLang + "] " + req.Text}, nil
}

type replyLog struct {
	mu      sync.Mutex
	taskIDs []string
	replies []internal.Reply
}

func (l *replyLog) Reply(taskID string, r internal.Reply) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taskIDs = append(l.taskIDs, taskID)
	l.replies = append(l.replies, r)
}

func (l *replyLog) all() []internal.Reply {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]internal.Reply(nil), l.replies...)
}

// recordingGate grants min(want, qps) immediately and records each grant.
type recordingGate struct {
	qps    int
	mu     sync.Mutex
	grants []int
}

func (g *recordingGate) Budget() int { return g.qps }

func (g *recordingGate) Take(ctx context.Context, want int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := min(want, g.qps)
	g.mu.Lock()
	g.grants = append(g.grants, n)
	g.mu.Unlock()
	return n, nil
}

// stallingGate grants one batch and then blocks until ctx is done.
type stallingGate struct {
	qps     int
	granted atomic.Bool
}

func (g *stallingGate) Budget() int { return g.qps }

func (g *stallingGate) Take(ctx context.Context, want int) (int, error) {
	if g.granted.CompareAndSwap(false, true) {
		return min(want, g.qps), nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

type fakeRecorder struct {
	mu       sync.Mutex
	jobs     []internal.Job
	items    []internal.ItemOutcome
	finished []internal.Summary
}

func (r *fakeRecorder) CreateJob(_ context.Context, job internal.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *fakeRecorder) RecordItem(_ context.Context, item internal.ItemOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *fakeRecorder) FinishJob(_ context.Context, s internal.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	return nil
}

type rejectingValidator struct{}

func (rejectingValidator) IsValid(text, lang string) (bool, error) {
	return false, fmt.Errorf("expected %s but detected en", lang)
}

func newTestEngine(svc translator.TranslationService, cfg Config, gate ratelimit.Gate, opts ...Option) *Engine {
	opts = append(opts, WithGateFactory(func() (ratelimit.Gate, error) { return gate, nil }))
	return New(svc, cfg, opts...)
}

func waitRun(t *testing.T, run *Run) internal.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
	return s
}

func batch(operate string, sources, targets []string, entries ...internal.Entry) *internal.BatchParams {
	return &internal.BatchParams{Operate: &operate, Sources: sources, Targets: targets, Strings: entries}
}

func TestEngine_New_Defaults(t *testing.T) {
	e := New(&mockService{}, Config{})

	if e.config.QPS != 5 {
		t.Errorf("expected QPS=5, got %d", e.config.QPS)
	}
	if e.config.Interval != time.Second {
		t.Errorf("expected 1s interval, got %v", e.config.Interval)
	}
	if e.config.MaxAttempts != 1 {
		t.Errorf("expected MaxAttempts=1, got %d", e.config.MaxAttempts)
	}
	gate, err := e.newGate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := gate.(*ratelimit.TokenBucket); !ok {
		t.Errorf("expected token bucket gate by default, got %T", gate)
	}
}

func TestEngine_New_LangMapOverride(t *testing.T) {
	svc := &mockService{langs: translator.LangMap{"zh-Hans": "zh", "zh-Hant": "cht"}}
	e := New(svc, Config{LangMap: map[string]string{"zh-Hant": "zh-TW"}})

	if got := e.Languages().Resolve("zh-Hant"); got != "zh-TW" {
		t.Errorf("expected override zh-TW, got %q", got)
	}
	if got := e.Languages().Resolve("zh-Hans"); got != "zh" {
		t.Errorf("expected default zh, got %q", got)
	}
}

func TestEngine_BatchTranslate_SingleItem(t *testing.T) {
	svc := &mockService{}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "task-1",
		batch("all", []string{"en"}, []string{"en", "fr"}, entry("k1", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	replies := log.all()
	if len(replies) != 2 {
		t.Fatalf("expected item reply plus terminal reply, got %d: %+v", len(replies), replies)
	}
	first := replies[0]
	if len(first.Strings) != 1 {
		t.Fatalf("expected one result fragment, got %+v", first)
	}
	frag := first.Strings[0]
	if frag.Key != "k1" || frag.Target != "fr" || frag.Result != "[fr] Hi" {
		t.Errorf("unexpected fragment %+v", frag)
	}
	if first.Total != 1 || first.Deal != 1 || first.Error != "" {
		t.Errorf("unexpected progress %+v", first)
	}
	last := replies[1]
	if !last.Done || last.Total != 1 || last.Deal != 1 {
		t.Errorf("unexpected terminal reply %+v", last)
	}
	if s.Translated != 1 || s.Failed != 0 || s.Canceled {
		t.Errorf("unexpected summary %+v", s)
	}
	for _, id := range log.taskIDs {
		if id != "task-1" {
			t.Errorf("expected replies for task-1, got %q", id)
		}
	}
}

func TestEngine_BatchTranslate_FixModeNoItems(t *testing.T) {
	svc := &mockService{}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("fix", []string{"en"}, []string{"fr"}, entry("k1", map[string]*string{"en": str("Hi"), "fr": str("Salut")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	if svc.callCount.Load() != 0 {
		t.Errorf("expected no provider calls, got %d", svc.callCount.Load())
	}
	replies := log.all()
	if len(replies) != 1 || !replies[0].Done || replies[0].Total != 0 || replies[0].Deal != 0 {
		t.Errorf("expected a single terminal reply with zero counters, got %+v", replies)
	}
	if s.Total != 0 {
		t.Errorf("expected total 0, got %d", s.Total)
	}
}

func TestEngine_BatchTranslate_DispatchPattern(t *testing.T) {
	svc := &mockService{}
	gate := &recordingGate{qps: 5}
	e := newTestEngine(svc, Config{QPS: 5}, gate)

	var entries []internal.Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, entry(fmt.Sprintf("k%d", i), map[string]*string{"en": str("text")}))
	}

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("all", []string{"en"}, []string{"fr", "de"}, entries...), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	gate.mu.Lock()
	grants := append([]int(nil), gate.grants...)
	gate.mu.Unlock()

	want := []int{5, 5, 2}
	if len(grants) != len(want) {
		t.Fatalf("expected grants %v, got %v", want, grants)
	}
	for i := range want {
		if grants[i] != want[i] {
			t.Errorf("cycle %d: expected %d starts, got %d", i, want[i], grants[i])
		}
	}
	if s.Total != 12 || s.Deal != 12 {
		t.Errorf("expected 12/12, got %d/%d", s.Deal, s.Total)
	}
	if svc.callCount.Load() != 12 {
		t.Errorf("expected 12 provider calls, got %d", svc.callCount.Load())
	}
}

func TestEngine_BatchTranslate_ProviderError(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			if req.TargetLang == "xx" {
				return &translator.ServiceResult{ErrorCode: "X", ErrorMessage: "bad lang"}, nil
			}
			return &translator.ServiceResult{TranslatedText: "ok"}, nil
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("all", []string{"en"}, []string{"fr", "xx", "de"}, entry("k1", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	var errorsSeen, successes int
	for _, r := range log.all() {
		switch {
		case r.Done:
		case r.Error != "":
			errorsSeen++
			if !strings.Contains(r.Error, "bad lang") || !strings.Contains(r.Error, "X") {
				t.Errorf("error reply must carry message and code, got %q", r.Error)
			}
			if !strings.Contains(r.Error, "Hi") || !strings.Contains(r.Error, "from en to xx") {
				t.Errorf("error reply must name text and languages, got %q", r.Error)
			}
			if len(r.Strings) != 0 {
				t.Errorf("error reply must not carry results: %+v", r)
			}
		default:
			successes++
		}
	}
	if errorsSeen != 1 || successes != 2 {
		t.Errorf("expected 1 error and 2 successes, got %d and %d", errorsSeen, successes)
	}
	if s.Deal != 3 || s.Failed != 1 || s.Translated != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestEngine_BatchTranslate_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		params *internal.BatchParams
	}{
		{name: "nil params", params: nil},
		{name: "missing sources", params: &internal.BatchParams{Operate: str("all"), Targets: []string{"fr"}, Strings: []internal.Entry{}}},
		{name: "missing operate", params: &internal.BatchParams{Sources: []string{"en"}, Targets: []string{"fr"}, Strings: []internal.Entry{}}},
		{name: "missing targets", params: &internal.BatchParams{Operate: str("all"), Sources: []string{"en"}, Strings: []internal.Entry{}}},
		{name: "missing strings", params: &internal.BatchParams{Operate: str("all"), Sources: []string{"en"}, Targets: []string{"fr"}}},
		{name: "empty targets", params: batch("all", []string{"en"}, []string{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			log := &replyLog{}
			e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

			run, err := e.BatchTranslate(context.Background(), "t", tt.params, log)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("expected ErrInvalidParameters, got %v", err)
			}
			if run != nil {
				t.Error("expected no run for invalid parameters")
			}
			replies := log.all()
			if len(replies) != 1 {
				t.Fatalf("expected exactly one reply, got %d", len(replies))
			}
			r := replies[0]
			if r.Error != "Invalid parameters" || r.Total != 0 || r.Deal != 0 || r.Done {
				t.Errorf("unexpected reply %+v", r)
			}
			if svc.callCount.Load() != 0 {
				t.Error("expected no provider calls")
			}
		})
	}
}

func TestEngine_BatchTranslate_UnknownOperateMeansAll(t *testing.T) {
	svc := &mockService{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("whatever", []string{"en"}, []string{"fr"}, entry("k1", map[string]*string{"en": str("Hi"), "fr": str("Salut")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := waitRun(t, run); s.Total != 1 {
		t.Errorf("expected existing target to be retranslated, total=%d", s.Total)
	}
}

func TestEngine_BatchTranslate_DealMonotonic(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			// Reverse completion order relative to start order.
			if req.Text == "first" {
				time.Sleep(20 * time.Millisecond)
			}
			return &translator.ServiceResult{TranslatedText: req.Text + "!"}, nil
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 10})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr", "de", "ja"},
		entry("a", map[string]*string{"en": str("first")}),
		entry("b", map[string]*string{"en": str("second")}),
	), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	replies := log.all()
	if len(replies) != 7 {
		t.Fatalf("expected 6 item replies and a terminal reply, got %d", len(replies))
	}
	for i, r := range replies[:6] {
		if r.Deal != i+1 {
			t.Errorf("reply %d: expected deal %d, got %d", i, i+1, r.Deal)
		}
		if r.Deal > r.Total {
			t.Errorf("reply %d: deal %d exceeds total %d", i, r.Deal, r.Total)
		}
	}
	if last := replies[6]; !last.Done || last.Deal != last.Total {
		t.Errorf("unexpected terminal reply %+v", last)
	}
}

func TestEngine_BatchTranslate_Cancel(t *testing.T) {
	svc := &mockService{}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &stallingGate{qps: 2})

	var entries []internal.Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, entry(fmt.Sprintf("k%d", i), map[string]*string{"en": str("Hi")}))
	}
	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entries...), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for run.Progress().Deal < 2 {
		if time.Now().After(deadline) {
			t.Fatal("first batch never completed")
		}
		time.Sleep(time.Millisecond)
	}
	run.Cancel()
	s := waitRun(t, run)

	if s.Deal != 2 || s.Dropped != 4 || !s.Canceled {
		t.Errorf("expected 2 dealt and 4 dropped, got %+v", s)
	}
	if svc.callCount.Load() != 2 {
		t.Errorf("expected 2 provider calls, got %d", svc.callCount.Load())
	}
	replies := log.all()
	last := replies[len(replies)-1]
	if !last.Done || last.Error != "job canceled" {
		t.Errorf("unexpected terminal reply %+v", last)
	}
	if p := run.Progress(); !p.Complete() {
		t.Errorf("expected complete progress after cancel, got %+v", p)
	}

	run.Cancel()
}

func TestEngine_BatchTranslate_CanceledBeforeSubmit(t *testing.T) {
	svc := &mockService{}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := e.BatchTranslate(ctx, "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)
	if !s.Canceled || svc.callCount.Load() != 0 {
		t.Errorf("expected canceled job without calls, got %+v", s)
	}
}

func TestEngine_Retry(t *testing.T) {
	var calls atomic.Int32
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("connection reset")
			}
			return &translator.ServiceResult{TranslatedText: "Salut"}, nil
		},
	}
	rec := &fakeRecorder{}
	e := newTestEngine(svc, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, &recordingGate{qps: 5}, WithRecorder(rec))

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	if s.Translated != 1 {
		t.Errorf("expected success after retries, got %+v", s)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.items) != 1 || rec.items[0].Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %+v", rec.items)
	}
}

func TestEngine_RetryTakesPermit(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return nil, errors.New("connection reset")
		},
	}
	gate := &recordingGate{qps: 5}
	e := newTestEngine(svc, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, gate)

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if len(gate.grants) != 3 {
		t.Errorf("expected one grant per attempt, got %v", gate.grants)
	}
}

func TestEngine_RetriesStayWithinWindow(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return nil, errors.New("connection reset")
		},
	}
	epoch := time.Unix(1700000000, 0)
	// The clock never advances, so the window never reopens.
	gate := ratelimit.NewFixedWindow(2, 10*time.Second, ratelimit.WithClock(
		func() time.Time { return epoch },
		func(time.Duration) <-chan time.Time { return nil },
	))
	log := &replyLog{}
	e := newTestEngine(svc, Config{MaxAttempts: 4, RetryDelay: time.Millisecond}, gate)

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("all", []string{"en"}, []string{"fr"},
			entry("a", map[string]*string{"en": str("One")}),
			entry("b", map[string]*string{"en": str("Two")}),
		), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.callCount.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := svc.callCount.Load(); got != 2 {
		t.Fatalf("expected 2 calls within one window, got %d", got)
	}

	run.Cancel()
	s := waitRun(t, run)

	if svc.callCount.Load() != 2 {
		t.Errorf("expected no calls after cancel, got %d", svc.callCount.Load())
	}
	if s.Failed != 2 || s.Dropped != 0 {
		t.Errorf("expected both items failed with their transport error, got %+v", s)
	}
	for _, r := range log.all()[:2] {
		if !strings.Contains(r.Error, "connection reset") {
			t.Errorf("unexpected reply %+v", r)
		}
	}
}

func TestEngine_CancelInterruptsBackoff(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return nil, errors.New("connection reset")
		},
	}
	rec := &fakeRecorder{}
	e := newTestEngine(svc, Config{MaxAttempts: 2, RetryDelay: time.Hour}, &recordingGate{qps: 5}, WithRecorder(rec))

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.callCount.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	run.Cancel()
	s := waitRun(t, run)

	if s.Failed != 1 {
		t.Errorf("expected the item to fail, got %+v", s)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.items) != 1 || rec.items[0].Attempts != 1 {
		t.Errorf("expected a single attempt recorded, got %+v", rec.items)
	}
}

func TestEngine_RetryExhausted(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return nil, errors.New("boom")
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{MaxAttempts: 2, RetryDelay: time.Millisecond}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	if svc.callCount.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", svc.callCount.Load())
	}
	r := log.all()[0]
	if r.Error != "Translation failed for Hi from en to fr, message: boom" {
		t.Errorf("unexpected error text %q", r.Error)
	}
}

func TestEngine_ProviderErrorIsNotRetried(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return &translator.ServiceResult{ErrorCode: "13001", ErrorMessage: "bad lang"}, nil
		},
	}
	e := newTestEngine(svc, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	if svc.callCount.Load() != 1 {
		t.Errorf("expected a single call, got %d", svc.callCount.Load())
	}
}

func TestEngine_RequestTimeout(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{RequestTimeout: 10 * time.Millisecond}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	if s.Failed != 1 || s.Deal != 1 {
		t.Errorf("expected timed out item to count as dealt failure, got %+v", s)
	}
	if r := log.all()[0]; !strings.Contains(r.Error, "deadline exceeded") {
		t.Errorf("expected timeout in error text, got %q", r.Error)
	}
}

func TestEngine_LanguageCodesSentToProvider(t *testing.T) {
	svc := &mockService{langs: translator.LangMap{"zh-Hans": "zh", "zh-Hant": "cht"}}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("all", []string{"zh-Hans"}, []string{"zh-Hant"}, entry("k", map[string]*string{"zh-Hans": str("你好")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	svc.mu.Lock()
	req := svc.requests[0]
	svc.mu.Unlock()
	if req.SourceLang != "zh" || req.TargetLang != "cht" {
		t.Errorf("expected provider codes zh -> cht, got %q -> %q", req.SourceLang, req.TargetLang)
	}
	if frag := log.all()[0].Strings[0]; frag.Target != "zh-Hant" {
		t.Errorf("reply must use the internal code, got %q", frag.Target)
	}
}

func TestEngine_ProtectPlaceholders(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			if strings.Contains(req.Text, "%") {
				t.Errorf("placeholder reached the provider: %q", req.Text)
			}
			if req.TargetLang == "de" {
				return &translator.ServiceResult{TranslatedText: "Hallo"}, nil
			}
			return &translator.ServiceResult{TranslatedText: "Bonjour [PH0]"}, nil
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{ProtectPlaceholders: true}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t",
		batch("all", []string{"en"}, []string{"fr", "de"}, entry("k", map[string]*string{"en": str("Hello %s")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	var restored, lost bool
	for _, r := range log.all() {
		if len(r.Strings) == 1 && r.Strings[0].Result == "Bonjour %s" {
			restored = true
		}
		if strings.Contains(r.Error, "placeholders lost") && strings.Contains(r.Error, "to de") {
			lost = true
		}
	}
	if !restored {
		t.Error("expected placeholder to be restored in the fr result")
	}
	if !lost {
		t.Error("expected the de result to be rejected for a lost placeholder")
	}
}

func TestEngine_TidyOutput(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return &translator.ServiceResult{TranslatedText: "\"Nom :\""}, nil
		},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{TidyOutput: true}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Name: ")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	if got := log.all()[0].Strings[0].Result; got != "Nom : " {
		t.Errorf("expected tidied result %q, got %q", "Nom : ", got)
	}
}

func TestEngine_ValidatorRejects(t *testing.T) {
	log := &replyLog{}
	e := newTestEngine(&mockService{}, Config{}, &recordingGate{qps: 5}, WithValidator(rejectingValidator{}))

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	if s.Failed != 1 {
		t.Errorf("expected validation failure, got %+v", s)
	}
	if r := log.all()[0]; !strings.Contains(r.Error, "code: language") {
		t.Errorf("unexpected error text %q", r.Error)
	}
}

type fakeMemory struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *fakeMemory) GetCachedTranslation(_ context.Context, text, src, tgt, service string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[service+"|"+src+"|"+tgt+"|"+text]
	return v, ok, nil
}

func (m *fakeMemory) SaveToMemory(_ context.Context, text, src, tgt, final, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[service+"|"+src+"|"+tgt+"|"+text] = final
	return nil
}

func (m *fakeMemory) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestEngine_MemoryServesAcceptedOutput(t *testing.T) {
	inner := &mockService{}
	mem := &fakeMemory{entries: map[string]string{}}
	e := newTestEngine(translator.NewCachedService(inner, mem), Config{}, &recordingGate{qps: 5})

	for i := 0; i < 2; i++ {
		run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s := waitRun(t, run); s.Translated != 1 {
			t.Fatalf("job %d: expected a translation, got %+v", i, s)
		}
	}

	if inner.callCount.Load() != 1 {
		t.Errorf("expected the second job to be served from memory, got %d calls", inner.callCount.Load())
	}
	if mem.len() != 1 {
		t.Errorf("expected 1 memory entry, got %d", mem.len())
	}
}

func TestEngine_MemorySkipsRejectedOutput(t *testing.T) {
	inner := &mockService{}
	mem := &fakeMemory{entries: map[string]string{}}
	e := newTestEngine(translator.NewCachedService(inner, mem), Config{}, &recordingGate{qps: 5}, WithValidator(rejectingValidator{}))

	for i := 0; i < 2; i++ {
		run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s := waitRun(t, run); s.Failed != 1 {
			t.Fatalf("job %d: expected a failure, got %+v", i, s)
		}
	}

	if inner.callCount.Load() != 2 {
		t.Errorf("expected both jobs to reach the provider, got %d calls", inner.callCount.Load())
	}
	if mem.len() != 0 {
		t.Errorf("expected rejected output not to be remembered, got %d entries", mem.len())
	}
}

func TestEngine_MemorySkipsLostPlaceholders(t *testing.T) {
	inner := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			return &translator.ServiceResult{TranslatedText: "Bonjour"}, nil
		},
	}
	mem := &fakeMemory{entries: map[string]string{}}
	e := newTestEngine(translator.NewCachedService(inner, mem), Config{ProtectPlaceholders: true}, &recordingGate{qps: 5})

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr"}, entry("k", map[string]*string{"en": str("Hello %s")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := waitRun(t, run); s.Failed != 1 {
		t.Fatalf("expected a placeholder failure, got %+v", s)
	}
	if mem.len() != 0 {
		t.Errorf("expected nothing remembered, got %d entries", mem.len())
	}
}

func TestEngine_Recorder(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEngine(&mockService{}, Config{}, &recordingGate{qps: 5}, WithRecorder(rec))

	run, err := e.BatchTranslate(context.Background(), "t", batch("all", []string{"en"}, []string{"fr", "de"}, entry("k", map[string]*string{"en": str("Hi")})), &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.jobs) != 1 || rec.jobs[0].ID != run.ID {
		t.Errorf("expected job %s recorded, got %+v", run.ID, rec.jobs)
	}
	if len(rec.items) != 2 {
		t.Errorf("expected 2 items recorded, got %d", len(rec.items))
	}
	for _, it := range rec.items {
		if it.Status != internal.StatusTranslated || it.Service != "mock" {
			t.Errorf("unexpected item record %+v", it)
		}
	}
	if len(rec.finished) != 1 || rec.finished[0].Deal != 2 {
		t.Errorf("expected finished summary, got %+v", rec.finished)
	}
}

func TestEngine_JobsDoNotShareCounters(t *testing.T) {
	e := newTestEngine(&mockService{}, Config{}, &recordingGate{qps: 5})
	e.newGate = func() (ratelimit.Gate, error) { return &recordingGate{qps: 5}, nil }

	params := batch("all", []string{"en"}, []string{"fr", "de"}, entry("k", map[string]*string{"en": str("Hi")}))
	run1, err := e.BatchTranslate(context.Background(), "a", params, &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run2, err := e.BatchTranslate(context.Background(), "b", params, &replyLog{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1, s2 := waitRun(t, run1), waitRun(t, run2)
	if s1.Total != 2 || s2.Total != 2 || s1.Deal != 2 || s2.Deal != 2 {
		t.Errorf("expected independent 2/2 counters, got %+v and %+v", s1, s2)
	}
	if run1.ID == run2.ID {
		t.Error("expected distinct job IDs")
	}
}

func TestEngine_Translate_Keyed(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.TranslateRequest) (*translator.ServiceResult, error) {
			if req.TargetLang == "de" {
				return &translator.ServiceResult{ErrorCode: "1", ErrorMessage: "unsupported"}, nil
			}
			return &translator.ServiceResult{TranslatedText: req.TargetLang + ":" + req.Text}, nil
		},
		langs: translator.LangMap{"zh-Hans": "zh"},
	}
	log := &replyLog{}
	e := newTestEngine(svc, Config{}, &recordingGate{qps: 5})

	run, err := e.Translate(context.Background(), "t", map[string]internal.KeyedRequest{
		"key1": {From: "zh-Hans", Text: "你好", Targets: []string{"ja", "en"}},
		"key2": {From: "en", Text: "World", Targets: []string{"zh-Hans", "ja", "de"}},
	}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := waitRun(t, run)

	replies := log.all()
	if len(replies) != 1 {
		t.Fatalf("expected a single final reply, got %d", len(replies))
	}
	r := replies[0]
	if !r.Done || r.Total != 5 || r.Deal != 5 {
		t.Errorf("unexpected counters %+v", r)
	}
	if r.Results["key1"]["ja"] != "ja:你好" || r.Results["key1"]["en"] != "en:你好" {
		t.Errorf("unexpected key1 results %v", r.Results["key1"])
	}
	if r.Results["key2"]["zh-Hans"] != "zh:World" {
		t.Errorf("expected internal code as result key, got %v", r.Results["key2"])
	}
	if _, ok := r.Results["key2"]["de"]; ok {
		t.Error("failed item must be left out of results")
	}
	if s.Failed != 1 || s.Translated != 4 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestEngine_Translate_Empty(t *testing.T) {
	log := &replyLog{}
	e := newTestEngine(&mockService{}, Config{}, &recordingGate{qps: 5})

	run, err := e.Translate(context.Background(), "t", map[string]internal.KeyedRequest{}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitRun(t, run)

	replies := log.all()
	if len(replies) != 1 || !replies[0].Done || replies[0].Total != 0 {
		t.Errorf("expected an immediate empty final reply, got %+v", replies)
	}

	if _, err := e.Translate(context.Background(), "t", nil, log); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("expected ErrInvalidParameters for nil request, got %v", err)
	}
}

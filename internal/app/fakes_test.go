package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"mentara-client/internal/app"
	"mentara-client/internal/domain"
	"mentara-client/internal/infra/memory"
)

// tb is the part of testing.T (and rapid.T) the helpers need.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

var epoch = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// manualClock hands out tickers whose ticks the test sends explicitly.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*manualTicker]struct{}
	timers  map[*manualTimer]struct{}
}

func newManualClock() *manualClock {
	return &manualClock{
		now:     epoch,
		tickers: make(map[*manualTicker]struct{}),
		timers:  make(map[*manualTimer]struct{}),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(d time.Duration) app.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{clock: c, every: d, c: make(chan time.Time)}
	c.tickers[t] = struct{}{}
	return t
}

func (c *manualClock) NewTimer(d time.Duration) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, after: d, c: make(chan time.Time, 1)}
	c.timers[t] = struct{}{}
	return t
}

// Tick delivers one tick to every live ticker with interval d and returns
// once the session goroutine has received it.
func (c *manualClock) Tick(t tb, d time.Duration) {
	t.Helper()
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var targets []*manualTicker
	for tk := range c.tickers {
		if tk.every == d {
			targets = append(targets, tk)
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		t.Fatalf("no ticker with interval %v", d)
	}
	for _, tk := range targets {
		select {
		case tk.c <- now:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %v was not received", d)
		}
	}
}

// FireTimers expires every pending timer.
func (c *manualClock) FireTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for tm := range c.timers {
		tm.c <- c.now
		delete(c.timers, tm)
		n++
	}
	return n
}

func (c *manualClock) PendingTimers() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for tm := range c.timers {
		out = append(out, tm.after)
	}
	return out
}

type manualTicker struct {
	clock *manualClock
	every time.Duration
	c     chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.tickers, t)
}

type manualTimer struct {
	clock *manualClock
	after time.Duration
	c     chan time.Time
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	_, ok := t.clock.timers[t]
	delete(t.clock.timers, t)
	return ok
}

// fakeAPI records calls. A non-nil submitGate blocks SubmitAttempt until closed.
type fakeAPI struct {
	clock     *manualClock
	remaining int
	questions []domain.Question
	startErr  error
	resume    domain.ResumeState
	resumeErr error
	review    domain.AttemptReview

	submitGate chan struct{}
	submitErrs []error
	uploadErr  error
	saveErr    error

	mu          sync.Mutex
	saves       []domain.ProgressSave
	uploads     [][]domain.AnswerFile
	submissions []domain.Submission
	submitted   chan domain.Submission
}

func newFakeAPI(clock *manualClock, remaining int, questions ...domain.Question) *fakeAPI {
	return &fakeAPI{
		clock:     clock,
		remaining: remaining,
		questions: questions,
		submitted: make(chan domain.Submission, 16),
	}
}

func (f *fakeAPI) StartAttempt(_ context.Context, _ domain.ID) (domain.StartedAttempt, error) {
	if f.startErr != nil {
		return domain.StartedAttempt{}, f.startErr
	}
	return domain.StartedAttempt{
		AttemptID: "41",
		ExpiresAt: f.clock.Now().Add(time.Duration(f.remaining) * time.Second),
		Questions: f.questions,
	}, nil
}

func (f *fakeAPI) ResumeAttempt(_ context.Context, _ domain.ID) (domain.ResumeState, error) {
	return f.resume, f.resumeErr
}

func (f *fakeAPI) SaveProgress(_ context.Context, _ domain.ID, save domain.ProgressSave) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, save)
	return f.saveErr
}

func (f *fakeAPI) UploadFiles(_ context.Context, _ domain.ID, files []domain.AnswerFile) ([]domain.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, files)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	out := make([]domain.UploadedFile, 0, len(files))
	for _, file := range files {
		out = append(out, domain.UploadedFile{ID: domain.ID(file.Name), Name: file.Name})
	}
	return out, nil
}

func (f *fakeAPI) Review(_ context.Context, _ domain.ID) (domain.AttemptReview, error) {
	return f.review, nil
}

func (f *fakeAPI) SubmitAttempt(ctx context.Context, _ domain.ID, submission domain.Submission) (domain.SubmitResult, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, submission)
	var err error
	if n := len(f.submissions); n <= len(f.submitErrs) {
		err = f.submitErrs[n-1]
	}
	gate := f.submitGate
	f.mu.Unlock()
	f.submitted <- submission

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.SubmitResult{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{AttemptID: submission.AttemptID, Score: 1, Total: 2}, nil
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

func (f *fakeAPI) saveLog() []domain.ProgressSave {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ProgressSave(nil), f.saves...)
}

// waitSaves polls until n autosaves have reached the API.
func (f *fakeAPI) waitSaves(t tb, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.saveLog()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d autosaves, got %d", n, len(f.saveLog()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeAPI) waitSubmit(t tb) domain.Submission {
	t.Helper()
	select {
	case sub := <-f.submitted:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a submit call")
	}
	return domain.Submission{}
}

// recorder is a Presenter that remembers what it was told.
type recorder struct {
	mu      sync.Mutex
	notices []domain.Notice
	routes  []domain.Route
	holds   int
}

func (r *recorder) Notify(n domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Navigate(route domain.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) HoldRoute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holds++
}

func (r *recorder) lastRoute() (domain.Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return domain.Route{}, false
	}
	return r.routes[len(r.routes)-1], true
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func (r *recorder) count(level domain.NoticeLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Level == level {
			n++
		}
	}
	return n
}

type harness struct {
	clock     *manualClock
	api       *fakeAPI
	snapshots *memory.SnapshotStore
	presenter *recorder
	service   *app.AttemptService
}

func testSettings() app.Settings {
	return app.Settings{
		MaxStrikes:       3,
		TickInterval:     time.Second,
		AutosaveInterval: 10 * time.Second,
		LowTimeThreshold: 5 * time.Minute,
		ForceSubmitDelay: -1,
		MaxUploadBytes:   1 << 10,
	}
}

func newHarness(remaining int, questions ...domain.Question) *harness {
	clock := newManualClock()
	api := newFakeAPI(clock, remaining, questions...)
	snapshots := memory.NewSnapshotStore()
	exams := memory.NewExamRepository(memory.NewStaticExamLoader(map[domain.ID]domain.Exam{
		"7": {ID: "7", Title: "Chemistry Paper 2", DurationSeconds: 5400},
	}), time.Minute)
	return &harness{
		clock:     clock,
		api:       api,
		snapshots: snapshots,
		presenter: &recorder{},
		service:   app.NewAttemptService(api, exams, snapshots, testSettings(), app.WithClock(clock)),
	}
}

func (h *harness) withSettings(settings app.Settings) *harness {
	h.service = app.NewAttemptService(h.api, nil, h.snapshots, settings, app.WithClock(h.clock))
	return h
}

// withStore swaps the snapshot store; h.snapshots is left unused.
func (h *harness) withStore(store app.SnapshotStore) *harness {
	h.service = app.NewAttemptService(h.api, nil, store, testSettings(), app.WithClock(h.clock))
	return h
}

var errDiskFull = errors.New("disk full")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Load(context.Context, domain.ID) (domain.Snapshot, error) {
	return domain.Snapshot{}, errDiskFull
}

func (brokenStore) Save(context.Context, domain.Snapshot) error { return errDiskFull }

func (brokenStore) Delete(context.Context, domain.ID) error { return errDiskFull }

// running is a session whose Run loop is live.
type running struct {
	*app.Session
	cancel context.CancelFunc
	errc   chan error
}

func (h *harness) open(t tb) *running {
	t.Helper()
	session, err := h.service.Open(context.Background(), "7", h.presenter)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{Session: session, cancel: cancel, errc: make(chan error, 1)}
	go func() { r.errc <- session.Run(ctx) }()
	// a round trip through the loop guarantees the tickers exist
	r.view(t)
	return r
}

func (r *running) view(t tb) domain.SessionView {
	t.Helper()
	v, err := r.View(context.Background())
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return v
}

// stop cancels the loop if still running and returns Run's result.
func (r *running) stop(t tb) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop")
	}
	return nil
}

// wait blocks until Run returns on its own.
func (r *running) wait(t tb) error {
	t.Helper()
	select {
	case err := <-r.errc:
		r.cancel()
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish")
	}
	return nil
}

func mcq(id string) domain.Question {
	return domain.Question{ID: domain.ID(id), Type: domain.QuestionSingleChoice, Prompt: "Q" + id, Choices: map[string]string{"A": "a", "B": "b"}}
}

func essay(id string) domain.Question {
	return domain.Question{ID: domain.ID(id), Type: domain.QuestionStructured, Prompt: "Explain " + id, Marks: 6}
}

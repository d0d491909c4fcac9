package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"mentara-client/internal/domain"
)

type sessionDeps struct {
	api       AttemptAPI
	snapshots SnapshotStore
	presenter Presenter
	clock     Clock
	log       zerolog.Logger
	settings  Settings
}

// Session owns one attempt. All state below is touched only by the Run
// goroutine; the exported methods post messages to it.
type Session struct {
	api       AttemptAPI
	presenter Presenter
	clock     Clock
	log       zerolog.Logger
	settings  Settings
	writer    *snapshotWriter

	examID     domain.ID
	attemptID  domain.ID
	exam       domain.Exam
	questions  []domain.Question
	structured bool

	remaining     int
	current       int
	answers       map[domain.ID]domain.Answer
	flags         map[domain.ID]struct{}
	phase         domain.Phase
	status        domain.Status
	antiCheat     domain.AntiCheat
	struckOut     bool
	lowTimeWarned bool
	// stickyForce keeps later submits forced after a forced submit failed.
	stickyForce bool

	selected      []domain.AnswerFile
	uploaded      []domain.UploadedFile
	uploading     bool
	uploadReplies []chan uploadReply
	// submitAfterUpload holds a submit request waiting for its upload to finish.
	submitAfterUpload *submitMsg
	submitReply       chan domain.SubmitOutcome

	countdown  Ticker
	autosave   Ticker
	forceTimer Timer

	inbox  chan any
	events chan any
	runCtx context.Context
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

func newSession(deps sessionDeps, examID domain.ID, exam domain.Exam, started domain.StartedAttempt, remaining int, state restoredState) *Session {
	return &Session{
		api:        deps.api,
		presenter:  deps.presenter,
		clock:      deps.clock,
		log:        deps.log,
		settings:   deps.settings,
		writer:     newSnapshotWriter(deps.snapshots, deps.log),
		examID:     examID,
		attemptID:  started.AttemptID,
		exam:       exam,
		questions:  started.Questions,
		structured: state.structured,
		remaining:  remaining,
		current:    state.current,
		answers:    state.answers,
		flags:      state.flags,
		phase:      state.phase,
		status:     domain.StatusActive,
		antiCheat:  state.antiCheat,
		uploaded:   state.uploaded,
		inbox:      make(chan any),
		events:     make(chan any, 8),
		done:       make(chan struct{}),
	}
}

type (
	setAnswerMsg struct {
		id    domain.ID
		value domain.Answer
	}
	toggleFlagMsg struct{ id domain.ID }
	moveMsg       struct {
		delta    int
		index    int
		absolute bool
	}
	submitMsg struct {
		opts  domain.SubmitOptions
		reply chan domain.SubmitOutcome
	}
	selectFilesMsg struct{ files []domain.AnswerFile }
	clearFilesMsg  struct{}
	uploadMsg      struct{ reply chan uploadReply }
	integrityMsg   struct{ kind domain.IntegrityKind }
	backMsg        struct{}
	viewMsg        struct{ reply chan domain.SessionView }

	submitDoneMsg struct {
		result domain.SubmitResult
		err    error
		forced bool
	}
	uploadDoneMsg struct {
		count int
		files []domain.UploadedFile
		err   error
	}
)

type uploadReply struct {
	files []domain.UploadedFile
	err   error
}

// Run drives the session until it is submitted or ctx is cancelled. It must be
// called exactly once; it returns nil after a successful submission.
func (s *Session) Run(ctx context.Context) error {
	err := errors.New("session already running")
	s.once.Do(func() { err = s.run(ctx) })
	return err
}

func (s *Session) run(ctx context.Context) error {
	defer close(s.done)

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.writer.start()
	defer func() {
		s.stopTimers()
		cancel()
		s.wg.Wait()
		s.writer.close()
	}()

	if s.remaining > 0 {
		s.countdown = s.clock.NewTicker(s.settings.TickInterval)
	}
	s.autosave = s.clock.NewTicker(s.settings.AutosaveInterval)
	s.persist()

	// a resumed snapshot can already be at the strike limit
	if s.antiCheat.Strikes >= s.settings.MaxStrikes && s.integrityActive() {
		s.struckOut = true
		s.presenter.Notify(domain.Notice{Level: domain.NoticeError, Message: "Too many integrity warnings. Your exam is being submitted."})
		s.forceSubmit("strikes")
	}

	for s.status != domain.StatusFinished {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("session stopped before submission")
			return ctx.Err()
		case <-tickerC(s.countdown):
			s.tick()
		case <-tickerC(s.autosave):
			s.saveProgress()
		case <-timerC(s.forceTimer):
			s.forceTimer = nil
			s.forceSubmit("strikes")
		case msg := <-s.inbox:
			s.handle(msg)
		case ev := <-s.events:
			s.handle(ev)
		}
	}
	return nil
}

func tickerC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func (s *Session) stopTimers() {
	if s.countdown != nil {
		s.countdown.Stop()
	}
	if s.autosave != nil {
		s.autosave.Stop()
	}
	if s.forceTimer != nil {
		s.forceTimer.Stop()
		s.forceTimer = nil
	}
}

func (s *Session) handle(msg any) {
	switch m := msg.(type) {
	case setAnswerMsg:
		s.answers[m.id] = m.value
		s.persist()
	case toggleFlagMsg:
		if _, ok := s.flags[m.id]; ok {
			delete(s.flags, m.id)
		} else {
			s.flags[m.id] = struct{}{}
		}
		s.persist()
	case moveMsg:
		s.move(m)
	case submitMsg:
		s.handleSubmit(m)
	case selectFilesMsg:
		s.selected = append(s.selected, m.files...)
	case clearFilesMsg:
		s.selected = nil
	case uploadMsg:
		s.handleUpload(m.reply)
	case integrityMsg:
		s.handleIntegrity(m.kind)
	case backMsg:
		s.handleBack()
	case viewMsg:
		m.reply <- s.view()
	case submitDoneMsg:
		s.handleSubmitDone(m)
	case uploadDoneMsg:
		s.handleUploadDone(m)
	default:
		s.log.Error().Str("type", fmt.Sprintf("%T", msg)).Msg("unknown session message")
	}
}

// goAsync runs a network call off the session goroutine and posts its result back.
func (s *Session) goAsync(call func(ctx context.Context) any) {
	ctx := s.runCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := call(ctx)
		if result == nil {
			return
		}
		select {
		case s.events <- result:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) tick() {
	if s.remaining <= 0 {
		return
	}
	s.remaining--
	if s.remaining == 0 {
		// a submit already in flight owns the outcome
		if s.status == domain.StatusActive {
			s.presenter.Notify(domain.Notice{Level: domain.NoticeWarning, Message: "Time is up. Submitting your exam."})
			s.forceSubmit("time")
		}
		return
	}
	if s.structured && !s.lowTimeWarned && time.Duration(s.remaining)*time.Second <= s.settings.LowTimeThreshold {
		s.lowTimeWarned = true
		s.presenter.Notify(domain.Notice{
			Level:   domain.NoticeWarning,
			Message: fmt.Sprintf("%s left. Upload your answer sheets now so they are included when time runs out.", domain.FormatClock(s.remaining)),
		})
	}
}

// saveProgress pushes the current question to the server. Failures are only logged.
func (s *Session) saveProgress() {
	if s.status != domain.StatusActive || len(s.answers) == 0 || len(s.questions) == 0 {
		return
	}
	q := s.questions[s.current]
	_, flagged := s.flags[q.ID]
	save := domain.ProgressSave{
		QuestionID: q.ID,
		Answer:     s.answers[q.ID],
		TimeSpent:  0,
		Flagged:    flagged,
	}
	attemptID := s.attemptID
	s.goAsync(func(ctx context.Context) any {
		if err := s.api.SaveProgress(ctx, attemptID, save); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("question_id", save.QuestionID.String()).Msg("autosave failed")
		}
		return nil
	})
}

func (s *Session) move(m moveMsg) {
	if len(s.questions) == 0 {
		return
	}
	next := s.current + m.delta
	if m.absolute {
		next = m.index
	}
	if next < 0 {
		next = 0
	}
	if next > len(s.questions)-1 {
		next = len(s.questions) - 1
	}
	if next == s.current {
		return
	}
	s.current = next
	s.persist()
}

// unanswered counts questions without a non-empty answer.
func (s *Session) unanswered() int {
	n := 0
	for _, q := range s.questions {
		if a, ok := s.answers[q.ID]; !ok || a.Empty() {
			n++
		}
	}
	return n
}

func (s *Session) orderedFlags() []domain.ID {
	out := make([]domain.ID, 0, len(s.flags))
	seen := make(map[domain.ID]struct{}, len(s.flags))
	for _, q := range s.questions {
		if _, ok := s.flags[q.ID]; ok {
			out = append(out, q.ID)
			seen[q.ID] = struct{}{}
		}
	}
	var rest []domain.ID
	for id := range s.flags {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func (s *Session) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Version:   domain.SnapshotVersion,
		AttemptID: s.attemptID,
		ExamID:    s.examID,
		Answers:   copyAnswers(s.answers),
		Flags:     s.orderedFlags(),
		Phase:     s.phase,
		SavedAt:   s.clock.Now().UTC(),
	}
	if len(s.questions) > 0 {
		snap.CurrentQuestionID = s.questions[s.current].ID
	}
	if s.antiCheat.Strikes > 0 {
		ac := s.antiCheat
		snap.AntiCheat = &ac
	}
	return snap
}

func (s *Session) persist() {
	s.writer.enqueue(snapshotJob{snapshot: s.snapshot()})
}

func (s *Session) view() domain.SessionView {
	selected := make([]string, 0, len(s.selected))
	for _, f := range s.selected {
		selected = append(selected, f.Name)
	}
	return domain.SessionView{
		AttemptID:        s.attemptID,
		ExamID:           s.examID,
		Exam:             s.exam,
		Questions:        s.questions,
		CurrentIndex:     s.current,
		Answers:          copyAnswers(s.answers),
		Flags:            s.orderedFlags(),
		RemainingSeconds: s.remaining,
		Phase:            s.phase,
		Status:           s.status,
		Strikes:          s.antiCheat.Strikes,
		MaxStrikes:       s.settings.MaxStrikes,
		Unanswered:       s.unanswered(),
		SelectedFiles:    selected,
		Uploaded:         append([]domain.UploadedFile(nil), s.uploaded...),
	}
}

func copyAnswers(in map[domain.ID]domain.Answer) map[domain.ID]domain.Answer {
	out := make(map[domain.ID]domain.Answer, len(in))
	for id, a := range in {
		out[id] = append(domain.Answer(nil), a...)
	}
	return out
}

// post delivers a command to the session goroutine.
func (s *Session) post(ctx context.Context, msg any) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttemptID returns the server id of the attempt.
func (s *Session) AttemptID() domain.ID { return s.attemptID }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetAnswer stores value for a question. The value's shape is not validated here.
func (s *Session) SetAnswer(ctx context.Context, questionID domain.ID, value domain.Answer) error {
	return s.post(ctx, setAnswerMsg{id: questionID, value: append(domain.Answer(nil), value...)})
}

// ToggleFlag flags an unflagged question and unflags a flagged one.
func (s *Session) ToggleFlag(ctx context.Context, questionID domain.ID) error {
	return s.post(ctx, toggleFlagMsg{id: questionID})
}

func (s *Session) Next(ctx context.Context) error { return s.post(ctx, moveMsg{delta: 1}) }

func (s *Session) Prev(ctx context.Context) error { return s.post(ctx, moveMsg{delta: -1}) }

// GoTo jumps to a question index, clamped to the question list.
func (s *Session) GoTo(ctx context.Context, index int) error {
	return s.post(ctx, moveMsg{index: index, absolute: true})
}

// SelectFiles adds answer files to the upload selection.
func (s *Session) SelectFiles(ctx context.Context, files ...domain.AnswerFile) error {
	for _, f := range files {
		if int64(len(f.Data)) > s.settings.MaxUploadBytes {
			return fmt.Errorf("%s: %w (limit %d MB)", f.Name, domain.ErrFileTooLarge, s.settings.MaxUploadBytes>>20)
		}
	}
	return s.post(ctx, selectFilesMsg{files: files})
}

// ClearSelection drops files that have not been uploaded yet.
func (s *Session) ClearSelection(ctx context.Context) error {
	return s.post(ctx, clearFilesMsg{})
}

// UploadSelected uploads the current selection and waits for the result.
func (s *Session) UploadSelected(ctx context.Context) ([]domain.UploadedFile, error) {
	reply := make(chan uploadReply, 1)
	if err := s.post(ctx, uploadMsg{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.files, r.err
	case <-s.done:
		return nil, domain.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit runs the submission gate and, if it lets the request through,
// waits for the server's answer.
func (s *Session) Submit(ctx context.Context, opts domain.SubmitOptions) (domain.SubmitOutcome, error) {
	reply := make(chan domain.SubmitOutcome, 1)
	if err := s.post(ctx, submitMsg{opts: opts, reply: reply}); err != nil {
		return domain.SubmitOutcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-s.done:
		select {
		case out := <-reply:
			return out, nil
		default:
		}
		return domain.SubmitOutcome{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return domain.SubmitOutcome{}, ctx.Err()
	}
}

// ReportIntegrity records a focus-loss style event from the front end.
func (s *Session) ReportIntegrity(ctx context.Context, kind domain.IntegrityKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown integrity event %q", kind)
	}
	return s.post(ctx, integrityMsg{kind: kind})
}

// ReportBackNavigation records a history back attempt.
func (s *Session) ReportBackNavigation(ctx context.Context) error {
	return s.post(ctx, backMsg{})
}

// View returns a copy of the current state for rendering.
func (s *Session) View(ctx context.Context) (domain.SessionView, error) {
	reply := make(chan domain.SessionView, 1)
	if err := s.post(ctx, viewMsg{reply: reply}); err != nil {
		return domain.SessionView{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return domain.SessionView{}, ctx.Err()
	}
}

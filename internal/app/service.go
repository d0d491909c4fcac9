// Package app runs one timed exam attempt: bootstrap, countdown, autosave,
// answer/flag state, integrity heuristics and the submission gate.
//
// The integrity monitor only reacts to events the front end chooses to
// report. A client can suppress or spoof them, so strikes are a deterrent
// for honest users and not an exam-integrity control.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mentara-client/internal/domain"
)

// Settings tunes a session. Zero fields fall back to DefaultSettings.
type Settings struct {
	MaxStrikes       int
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	LowTimeThreshold time.Duration
	// ForceSubmitDelay is the pause between the final strike warning and the forced submit.
	// A negative value submits immediately.
	ForceSubmitDelay time.Duration
	MaxUploadBytes   int64
}

func DefaultSettings() Settings {
	return Settings{
		MaxStrikes:       3,
		TickInterval:     time.Second,
		AutosaveInterval: 10 * time.Second,
		LowTimeThreshold: 5 * time.Minute,
		ForceSubmitDelay: 1500 * time.Millisecond,
		MaxUploadBytes:   10 << 20,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxStrikes <= 0 {
		s.MaxStrikes = def.MaxStrikes
	}
	if s.TickInterval <= 0 {
		s.TickInterval = def.TickInterval
	}
	if s.AutosaveInterval <= 0 {
		s.AutosaveInterval = def.AutosaveInterval
	}
	if s.LowTimeThreshold <= 0 {
		s.LowTimeThreshold = def.LowTimeThreshold
	}
	if s.ForceSubmitDelay == 0 {
		s.ForceSubmitDelay = def.ForceSubmitDelay
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = def.MaxUploadBytes
	}
	return s
}

// AttemptService opens exam sessions.
type AttemptService struct {
	api       AttemptAPI
	exams     ExamRepository
	snapshots SnapshotStore
	settings  Settings
	clock     Clock
	log       zerolog.Logger
}

// ServiceOption customizes an AttemptService.
type ServiceOption func(*AttemptService)

// WithClock is mostly for tests that need deterministic ticks.
func WithClock(clock Clock) ServiceOption {
	return func(s *AttemptService) { s.clock = clock }
}

func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *AttemptService) { s.log = log.With().Str("component", "session").Logger() }
}

func NewAttemptService(api AttemptAPI, exams ExamRepository, snapshots SnapshotStore, settings Settings, opts ...ServiceOption) *AttemptService {
	s := &AttemptService{
		api:       api,
		exams:     exams,
		snapshots: snapshots,
		settings:  settings.withDefaults(),
		clock:     SystemClock(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts or resumes the caller's attempt for examID and returns a session
// ready to Run. When the start call fails, the presenter is told where to go
// and the error is returned.
func (s *AttemptService) Open(ctx context.Context, examID domain.ID, presenter Presenter) (*Session, error) {
	started, err := s.api.StartAttempt(ctx, examID)
	if err != nil {
		routeStartError(presenter, err)
		return nil, err
	}
	now := s.clock.Now()

	src := s.gather(ctx, examID, started)
	state := restore(started.Questions, src.resume, src.snapshot)
	state.uploaded = src.uploads

	session := newSession(sessionDeps{
		api:       s.api,
		snapshots: s.snapshots,
		presenter: presenter,
		clock:     s.clock,
		log:       s.log.With().Str("attempt_id", started.AttemptID.String()).Logger(),
		settings:  s.settings,
	}, examID, src.exam, started, started.RemainingSeconds(now), state)

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("attempt_id", started.AttemptID.String()).
		Int("questions", len(started.Questions)).
		Int("remaining", session.remaining).
		Bool("local_snapshot", state.hasLocal).
		Msg("attempt opened")
	return session, nil
}

// routeStartError sends the user somewhere sensible after a failed start.
func routeStartError(presenter Presenter, err error) {
	var reqErr *domain.RequestError
	switch {
	case errors.Is(err, domain.ErrAlreadyAttempted):
		presenter.Notify(domain.Notice{Level: domain.NoticeInfo, Message: domain.UserMessage(err, "You have already attempted this exam.")})
		if errors.As(err, &reqErr) && reqErr.AttemptID != "" {
			presenter.Navigate(domain.Route{Kind: domain.RouteResults, AttemptID: reqErr.AttemptID})
			return
		}
		presenter.Navigate(domain.Route{Kind: domain.RouteExamList})
	case errors.Is(err, domain.ErrAttemptExpired):
		presenter.Notify(domain.Notice{Level: domain.NoticeWarning, Message: domain.UserMessage(err, "This attempt has expired.")})
		presenter.Navigate(domain.Route{Kind: domain.RouteExamList})
	default:
		presenter.Notify(domain.Notice{Level: domain.NoticeError, Message: "Failed to load test: " + domain.UserMessage(err, "unknown error")})
		presenter.Navigate(domain.Route{Kind: domain.RouteLanding})
	}
}

type sources struct {
	resume   domain.ResumeState
	exam     domain.Exam
	uploads  []domain.UploadedFile
	snapshot *domain.Snapshot
}

// gather fetches the secondary state sources concurrently. Every source is
// best-effort: a failure is logged and the source counts as empty.
func (s *AttemptService) gather(ctx context.Context, examID domain.ID, started domain.StartedAttempt) sources {
	var (
		src sources
		g   errgroup.Group
	)
	attemptID := started.AttemptID
	log := s.log.With().Str("attempt_id", attemptID.String()).Logger()

	g.Go(func() error {
		resume, err := s.api.ResumeAttempt(ctx, attemptID)
		if err != nil {
			log.Warn().Err(err).Msg("resume state unavailable")
			return nil
		}
		src.resume = resume
		return nil
	})
	if s.exams != nil {
		g.Go(func() error {
			exam, err := s.exams.GetExam(ctx, examID)
			if err != nil {
				log.Warn().Err(err).Msg("exam details unavailable")
				return nil
			}
			src.exam = exam
			return nil
		})
	}
	if domain.HasStructured(started.Questions) {
		g.Go(func() error {
			review, err := s.api.Review(ctx, attemptID)
			if err != nil {
				log.Warn().Err(err).Msg("uploaded files unavailable")
				return nil
			}
			src.uploads = review.Uploads
			return nil
		})
	}
	if s.snapshots != nil {
		g.Go(func() error {
			snap, err := s.snapshots.Load(ctx, attemptID)
			switch {
			case errors.Is(err, domain.ErrSnapshotNotFound):
			case err != nil:
				log.Debug().Err(err).Msg("local snapshot unreadable")
			case snap.AttemptID != "" && snap.AttemptID != attemptID:
				log.Debug().Str("snapshot_attempt", snap.AttemptID.String()).Msg("ignoring snapshot of another attempt")
			default:
				src.snapshot = &snap
			}
			return nil
		})
	}
	_ = g.Wait()

	if src.exam.ID == "" {
		src.exam.ID = examID
	}
	return src
}

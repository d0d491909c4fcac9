package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"mentara-client/internal/app"
	"mentara-client/internal/config"
	"mentara-client/internal/domain"
	"mentara-client/internal/infra/memory"
	transport "mentara-client/internal/transport/http"
)

type stubAPI struct {
	mu        sync.Mutex
	submitted []domain.Submission
}

func (s *stubAPI) StartAttempt(_ context.Context, _ domain.ID) (domain.StartedAttempt, error) {
	return domain.StartedAttempt{
		AttemptID: "41",
		ExpiresAt: time.Now().Add(time.Hour),
		Questions: []domain.Question{
			{ID: "1", Type: domain.QuestionSingleChoice, Prompt: "Noble gas?", Choices: map[string]string{"A": "Neon", "B": "Sodium"}},
			{ID: "2", Type: domain.QuestionMultiChoice, Prompt: "Metals?", Choices: map[string]string{"A": "Iron", "B": "Sulfur", "C": "Zinc"}},
			{ID: "3", Type: domain.QuestionFillBlank, Prompt: "Symbol for gold"},
		},
	}, nil
}

func (s *stubAPI) ResumeAttempt(_ context.Context, _ domain.ID) (domain.ResumeState, error) {
	return domain.ResumeState{}, nil
}

func (s *stubAPI) SaveProgress(_ context.Context, _ domain.ID, _ domain.ProgressSave) error {
	return nil
}

func (s *stubAPI) UploadFiles(_ context.Context, _ domain.ID, _ []domain.AnswerFile) ([]domain.UploadedFile, error) {
	return nil, nil
}

func (s *stubAPI) Review(_ context.Context, _ domain.ID) (domain.AttemptReview, error) {
	return domain.AttemptReview{}, nil
}

func (s *stubAPI) SubmitAttempt(_ context.Context, _ domain.ID, submission domain.Submission) (domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, submission)
	return domain.SubmitResult{AttemptID: "41", Score: 3, Total: 3}, nil
}

func newTestService(api app.AttemptAPI) *app.AttemptService {
	settings := app.DefaultSettings()
	settings.AutosaveInterval = time.Hour
	return app.NewAttemptService(api, nil, memory.NewSnapshotStore(), settings)
}

func TestTerminalAnswersAndSubmits(t *testing.T) {
	api := &stubAPI{}
	service := newTestService(api)

	input := strings.Join([]string{
		"a b",
		"a a",
		"n",
		"a a, c",
		"flag",
		"g 3",
		"a Au",
		"submit",
	}, "\n") + "\n"
	var out bytes.Buffer
	term := newTerminal(strings.NewReader(input), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := service.Open(ctx, "7", term)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := term.run(ctx, session, "7"); err != nil {
		t.Fatalf("run: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(api.submitted))
	}
	got := map[domain.ID][]string{}
	for _, r := range api.submitted[0].Responses {
		got[r.QuestionID] = r.Payload.Answers
	}
	if strings.Join(got["1"], ",") != "A" || strings.Join(got["2"], ",") != "A,C" || strings.Join(got["3"], ",") != "Au" {
		t.Fatalf("unexpected responses %v", got)
	}
	text := out.String()
	if !strings.Contains(text, "Score: 3 / 3") || !strings.Contains(text, "-> /results/41") {
		t.Fatalf("expected score and results navigation in output:\n%s", text)
	}
	if !strings.Contains(text, "[flagged]") {
		t.Fatalf("expected flag marker in output:\n%s", text)
	}
}

func TestTerminalConfirmationDeclined(t *testing.T) {
	api := &stubAPI{}
	service := newTestService(api)

	var out bytes.Buffer
	term := newTerminal(strings.NewReader("a a\nsubmit\nn\nquit\n"), &out)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := service.Open(ctx, "7", term)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := term.run(ctx, session, "7"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(api.submitted) != 0 {
		t.Fatalf("declined confirmation must not submit")
	}
	text := out.String()
	if !strings.Contains(text, "2 question(s) unanswered") || !strings.Contains(text, "Progress saved") {
		t.Fatalf("unexpected output:\n%s", text)
	}
}

func TestTerminalHeaderShowsExamLength(t *testing.T) {
	exams := memory.NewExamRepository(memory.NewStaticExamLoader(map[domain.ID]domain.Exam{
		"7": {ID: "7", Title: "Chemistry Paper 2", DurationSeconds: 5400},
	}), time.Minute)
	service := app.NewAttemptService(&stubAPI{}, exams, memory.NewSnapshotStore(), app.DefaultSettings())

	var out bytes.Buffer
	term := newTerminal(strings.NewReader("quit\n"), &out)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := service.Open(ctx, "7", term)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := term.run(ctx, session, "7"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if text := out.String(); !strings.Contains(text, "Chemistry Paper 2 |") || !strings.Contains(text, " of 1:30:00 left") {
		t.Fatalf("expected title and exam length in header:\n%s", text)
	}
}

func TestParseAnswer(t *testing.T) {
	mcq := domain.Question{Type: domain.QuestionSingleChoice, Choices: map[string]string{"A": "x", "B": "y"}}
	multi := domain.Question{Type: domain.QuestionMultiChoice, Choices: map[string]string{"A": "x", "B": "y"}}

	tests := []struct {
		name    string
		q       domain.Question
		text    string
		want    string
		wantErr bool
	}{
		{name: "single lower case", q: mcq, text: "b", want: "B"},
		{name: "single unknown", q: mcq, text: "z", wantErr: true},
		{name: "multi list", q: multi, text: "a b", want: "A,B"},
		{name: "multi unknown", q: multi, text: "a,q", wantErr: true},
		{name: "fill blank keeps case", q: domain.Question{Type: domain.QuestionFillBlank}, text: "NaCl", want: "NaCl"},
		{name: "structured rejected", q: domain.Question{Type: domain.QuestionStructured}, text: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnswer(tt.q, tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, ",") != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, got)
			}
		})
	}
}

func TestSessionSettingsFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Session.MaxStrikes = 5
	cfg.Session.TickInterval = "500ms"
	cfg.Session.ForceSubmitDelay = "bogus"
	cfg.Session.MaxUploadMB = 2

	s := sessionSettings(cfg)
	if s.MaxStrikes != 5 || s.TickInterval != 500*time.Millisecond || s.MaxUploadBytes != 2<<20 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.ForceSubmitDelay != app.DefaultSettings().ForceSubmitDelay {
		t.Fatalf("invalid duration should fall back to the default, got %v", s.ForceSubmitDelay)
	}
}

func TestHealthz(t *testing.T) {
	mux := newMux(transport.NewWSHandler(newTestService(&stubAPI{}), zerolog.Nop()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
}

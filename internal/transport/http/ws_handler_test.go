package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"mentara-client/internal/app"
	"mentara-client/internal/domain"
	"mentara-client/internal/infra/memory"
)

type stubAPI struct {
	mu        sync.Mutex
	submitted []domain.Submission
}

func (s *stubAPI) StartAttempt(_ context.Context, _ domain.ID) (domain.StartedAttempt, error) {
	return domain.StartedAttempt{
		AttemptID: "41",
		ExpiresAt: time.Now().Add(30 * time.Minute),
		Questions: []domain.Question{
			{ID: "1", Type: domain.QuestionSingleChoice, Prompt: "What is 2 + 2?", Choices: map[string]string{"A": "3", "B": "4"}},
			{ID: "2", Type: domain.QuestionSingleChoice, Prompt: "What is 3 + 3?", Choices: map[string]string{"A": "6", "B": "7"}},
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
	return domain.SubmitResult{AttemptID: "41", Score: 2, Total: 2}, nil
}

func newTestServer(t *testing.T, api *stubAPI) *httptest.Server {
	t.Helper()
	settings := app.DefaultSettings()
	settings.AutosaveInterval = time.Hour
	service := app.NewAttemptService(api, nil, memory.NewSnapshotStore(), settings)
	wsHandler := NewWSHandler(service, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketSubmitFlow(t *testing.T) {
	api := &stubAPI{}
	conn := dial(t, newTestServer(t, api), "examId=7")

	payload := readUntil(t, conn, "state")
	if payload["attemptId"] != "41" {
		t.Fatalf("expected attempt 41 in initial state, got %v", payload["attemptId"])
	}

	send(t, conn, "answer", map[string]any{"questionId": "1", "answer": "B"})
	state := readUntil(t, conn, "state")
	answers, _ := state["answers"].(map[string]any)
	if answers["1"] != "B" {
		t.Fatalf("expected stored answer, got %v", state["answers"])
	}

	send(t, conn, "submit", map[string]any{})
	outcome := readUntil(t, conn, "outcome")
	if outcome["kind"] != string(domain.OutcomeNeedsConfirmation) || outcome["unanswered"] != float64(1) {
		t.Fatalf("expected confirmation for one unanswered, got %v", outcome)
	}

	send(t, conn, "submit", map[string]any{"override": true})
	nav := readUntil(t, conn, "navigate")
	if nav["path"] != "/results/41" {
		t.Fatalf("expected results navigation, got %v", nav)
	}
	outcome = readUntil(t, conn, "outcome")
	if outcome["kind"] != string(domain.OutcomeSubmitted) {
		t.Fatalf("expected submitted, got %v", outcome)
	}

	// the server closes the socket once the attempt is over
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(api.submitted))
	}
}

func TestWebSocketIntegrityAndBack(t *testing.T) {
	conn := dial(t, newTestServer(t, &stubAPI{}), "examId=7")
	readUntil(t, conn, "state")

	send(t, conn, "integrity", map[string]any{"kind": "window_blur"})
	notice := readUntil(t, conn, "notice")
	if notice["level"] != string(domain.NoticeWarning) || !strings.Contains(notice["message"].(string), "Warning 1 of 3") {
		t.Fatalf("unexpected strike notice %v", notice)
	}
	state := readUntil(t, conn, "state")
	if state["strikes"] != float64(1) {
		t.Fatalf("expected one strike, got %v", state["strikes"])
	}

	send(t, conn, "back", nil)
	nav := readUntil(t, conn, "navigate")
	if nav["hold"] != true {
		t.Fatalf("expected hold navigation, got %v", nav)
	}

	send(t, conn, "integrity", map[string]any{"kind": "screenshot"})
	errMsg := readUntil(t, conn, "error")
	if !strings.Contains(errMsg["message"].(string), "screenshot") {
		t.Fatalf("expected rejection of unknown kind, got %v", errMsg)
	}

	send(t, conn, "dance", nil)
	readUntil(t, conn, "error")
}

func TestWebSocketRequiresExamID(t *testing.T) {
	server := newTestServer(t, &stubAPI{})
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips messages until one of type expect arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message within 20 reads", expect)
	return nil
}

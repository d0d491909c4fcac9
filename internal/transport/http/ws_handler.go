package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"mentara-client/internal/app"
	"mentara-client/internal/domain"
)

// WSHandler bridges a kiosk shell to one attempt session per connection.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
	log      zerolog.Logger
	conns    sync.WaitGroup
}

func NewWSHandler(service *app.AttemptService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID domain.ID     `json:"questionId"`
	Answer     domain.Answer `json:"answer"`
}

type flagPayload struct {
	QuestionID domain.ID `json:"questionId"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type submitPayload struct {
	Override bool `json:"override"`
}

// attachPayload carries one answer file; Data is base64 in JSON.
type attachPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type integrityPayload struct {
	Kind domain.IntegrityKind `json:"kind"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type navigatePayload struct {
	Kind      domain.RouteKind `json:"kind,omitempty"`
	AttemptID domain.ID        `json:"attemptId,omitempty"`
	Path      string           `json:"path,omitempty"`
	// Hold asks the shell to stay on the current view.
	Hold bool `json:"hold,omitempty"`
}

type uploadPayload struct {
	Files []domain.UploadedFile `json:"files"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsPresenter forwards session decisions to the connection's writer. Sends are
// dropped once the writer is gone so the session goroutine never blocks.
type wsPresenter struct {
	send       chan<- outboundMessage[any]
	writerDone <-chan struct{}
}

func (p *wsPresenter) push(typ string, payload any) {
	select {
	case p.send <- outboundMessage[any]{Type: typ, Payload: payload}:
	case <-p.writerDone:
	}
}

func (p *wsPresenter) Notify(n domain.Notice) { p.push("notice", n) }

func (p *wsPresenter) Navigate(route domain.Route) {
	p.push("navigate", navigatePayload{Kind: route.Kind, AttemptID: route.AttemptID, Path: route.Path()})
}

func (p *wsPresenter) HoldRoute() { p.push("navigate", navigatePayload{Hold: true}) }

// ServeWS upgrades the request, opens the attempt for examId and relays
// commands until the socket closes or the attempt is submitted.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	examID := domain.ID(r.URL.Query().Get("examId"))
	if examID == "" {
		http.Error(w, "missing examId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	h.conns.Add(1)
	defer h.conns.Done()

	log := h.log.With().Str("conn_id", uuid.NewString()).Str("exam_id", examID.String()).Logger()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()
	presenter := &wsPresenter{send: send, writerDone: writerDone}
	shutdown := func() {
		close(send)
		<-writerDone
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.service.Open(ctx, examID, presenter)
	if err != nil {
		presenter.push("error", errorPayload{Message: domain.UserMessage(err, "Failed to load test.")})
		shutdown()
		return
	}
	log = log.With().Str("attempt_id", session.AttemptID().String()).Logger()
	log.Info().Msg("kiosk attached")

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	// unblock the reader once the attempt is over
	closeSignals := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-session.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-closeSignals:
		}
	}()

	c := &wsConn{session: session, presenter: presenter, log: log}
	c.pushState(ctx)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		c.dispatch(ctx, inbound)
	}

	close(closeSignals)
	<-watcherDone
	cancel()
	c.wg.Wait()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("session ended with error")
	}
	log.Info().Msg("kiosk detached")
	shutdown()
}

// Wait blocks until every connection handler has returned and flushed its session.
func (h *WSHandler) Wait() {
	h.conns.Wait()
}

// wsConn holds the per-connection dispatch state.
type wsConn struct {
	session   *app.Session
	presenter *wsPresenter
	log       zerolog.Logger
	// wg tracks submit and upload calls, which run off the reader goroutine.
	wg sync.WaitGroup
}

func (c *wsConn) fail(err error) {
	c.presenter.push("error", errorPayload{Message: domain.UserMessage(err, "Request failed.")})
}

func (c *wsConn) pushState(ctx context.Context) {
	view, err := c.session.View(ctx)
	if errors.Is(err, domain.ErrSessionClosed) || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}
	c.presenter.push("state", view)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (c *wsConn) dispatch(ctx context.Context, in inboundMessage) {
	var err error
	switch in.Type {
	case "answer":
		var p answerPayload
		if p, err = decode[answerPayload](in.Payload); err == nil {
			err = c.session.SetAnswer(ctx, p.QuestionID, p.Answer)
		}
	case "flag":
		var p flagPayload
		if p, err = decode[flagPayload](in.Payload); err == nil {
			err = c.session.ToggleFlag(ctx, p.QuestionID)
		}
	case "goto":
		var p gotoPayload
		if p, err = decode[gotoPayload](in.Payload); err == nil {
			err = c.session.GoTo(ctx, p.Index)
		}
	case "next":
		err = c.session.Next(ctx)
	case "prev":
		err = c.session.Prev(ctx)
	case "attach":
		var p attachPayload
		if p, err = decode[attachPayload](in.Payload); err == nil {
			err = c.session.SelectFiles(ctx, domain.AnswerFile{Name: p.Name, Data: p.Data})
		}
	case "clear":
		err = c.session.ClearSelection(ctx)
	case "integrity":
		var p integrityPayload
		if p, err = decode[integrityPayload](in.Payload); err == nil {
			err = c.session.ReportIntegrity(ctx, p.Kind)
		}
	case "back":
		err = c.session.ReportBackNavigation(ctx)
	case "view":
	case "submit":
		p, err := decode[submitPayload](in.Payload)
		if err != nil {
			c.fail(err)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			out, err := c.session.Submit(ctx, domain.SubmitOptions{Override: p.Override})
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.fail(err)
				}
				return
			}
			c.presenter.push("outcome", out)
			if out.Kind != domain.OutcomeSubmitted && out.Kind != domain.OutcomeFailed {
				c.pushState(ctx)
			}
		}()
		return
	case "upload":
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			files, err := c.session.UploadSelected(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.fail(err)
				}
				return
			}
			c.presenter.push("uploaded", uploadPayload{Files: files})
			c.pushState(ctx)
		}()
		return
	default:
		c.presenter.push("error", errorPayload{Message: "unsupported message type"})
		return
	}
	if err != nil {
		c.log.Debug().Err(err).Str("type", in.Type).Msg("command rejected")
		c.fail(err)
		return
	}
	c.pushState(ctx)
}

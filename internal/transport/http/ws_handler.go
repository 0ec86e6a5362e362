package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/engine"
	"quiz-attempt-service/internal/security"
)

// WSHandler bridges the browser to the attempt engine: sensor events
// (answers, navigation, violations, locations) flow in as JSON messages and
// engine events flow back out on the same connection.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Device   security.FingerprintComponents `json:"device"`
	Location *domain.Location               `json:"location"`
}

type answerPayload struct {
	QuestionIndex  int `json:"questionIndex"`
	SelectedOption int `json:"selectedOption"`
}

type indexPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

type violationPayload struct {
	Category domain.ViolationCategory `json:"category"`
	Metadata string                   `json:"metadata"`
}

// questionView strips the correct answer and explanation before anything
// reaches the taker's browser.
type questionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Points  int      `json:"points"`
}

type configuredPayload struct {
	AttemptID    string             `json:"attemptId"`
	QuizID       string             `json:"quizId"`
	Title        string             `json:"title"`
	Questions    []questionView     `json:"questions"`
	Timer        domain.TimerPolicy `json:"timer"`
	Proctored    bool               `json:"proctored"`
	Geofenced    bool               `json:"geofenced"`
	Instructions string             `json:"instructions,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// locationSource adapts the location the client sent with its start message
// to the engine's LocationSource. A missing reading means the taker denied
// (or never granted) the geolocation permission.
type locationSource struct {
	loc *domain.Location
}

func (s locationSource) Current(context.Context) (domain.Location, error) {
	if s.loc == nil {
		return domain.Location{}, domain.ErrPermissionDenied
	}
	return *s.loc, nil
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// attempt lifecycle. One connection carries exactly one attempt; closing the
// connection abandons whatever is still running.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	mode := r.URL.Query().Get("mode")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	attempt, err := h.begin(r, quizID, userID, mode)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	attemptID := attempt.Engine.ID()
	defer h.service.Abandon(attemptID)

	updates, cancel := attempt.Engine.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "configured", Payload: configuredView(attempt)}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply := h.dispatch(r, attemptID, inbound); reply != nil {
			send <- *reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) begin(r *http.Request, quizID, userID, mode string) (*app.Attempt, error) {
	if mode == "assignment" {
		return h.service.BeginAssignment(r.Context(), quizID, userID)
	}

	query := r.URL.Query()
	timerPolicy := domain.TimerPolicy{Mode: domain.TimerNone}
	switch query.Get("timerMode") {
	case string(domain.TimerTotalQuiz):
		timerPolicy.Mode = domain.TimerTotalQuiz
	case string(domain.TimerPerQuestion):
		timerPolicy.Mode = domain.TimerPerQuestion
	}
	if seconds, err := strconv.Atoi(query.Get("seconds")); err == nil && seconds > 0 {
		timerPolicy.Seconds = seconds
	}
	// A timed mode with no budget would expire on the first tick.
	if timerPolicy.Mode != domain.TimerNone && timerPolicy.Seconds <= 0 {
		return nil, fmt.Errorf("timer mode %q requires a positive seconds parameter", timerPolicy.Mode)
	}
	shuffle := query.Get("shuffle") == "true"
	allowSkip := query.Get("skip") != "false"
	return h.service.BeginSelfQuiz(r.Context(), quizID, userID, timerPolicy, shuffle, allowSkip)
}

func configuredView(attempt *app.Attempt) configuredPayload {
	eng := attempt.Engine
	questions := eng.Questions()
	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, questionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options, Points: q.Points})
	}
	mode := eng.Mode()
	return configuredPayload{
		AttemptID:    eng.ID(),
		QuizID:       eng.QuizID(),
		Title:        eng.Title(),
		Questions:    views,
		Timer:        mode.Policy.Timer,
		Proctored:    mode.RequiresSecurity(),
		Geofenced:    mode.Policy.Geofence != nil,
		Instructions: mode.Policy.Instructions,
	}
}

// dispatch handles one inbound browser message. Precondition failures come
// back as error payloads naming the specific reason; everything else is
// acknowledged through the engine's event stream.
func (h *WSHandler) dispatch(r *http.Request, attemptID string, inbound inboundMessage) *outboundMessage[any] {
	fail := func(err error) *outboundMessage[any] {
		return &outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}

	attempt, err := h.service.Get(attemptID)
	if err != nil {
		return fail(err)
	}
	eng := attempt.Engine

	switch inbound.Type {
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(err)
		}
		var source engine.LocationSource = locationSource{loc: payload.Location}
		if err := h.service.Start(r.Context(), attemptID, source, payload.Device); err != nil {
			return fail(err)
		}
		return nil
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(err)
		}
		if err := eng.RecordAnswer(payload.QuestionIndex, payload.SelectedOption); err != nil {
			return fail(err)
		}
		return &outboundMessage[any]{Type: "answerAck", Payload: payload}
	case "goto":
		var payload indexPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(err)
		}
		if err := eng.GoTo(payload.QuestionIndex); err != nil {
			return fail(err)
		}
		return nil
	case "next":
		if err := eng.Next(); err != nil {
			return fail(err)
		}
		return nil
	case "previous":
		if err := eng.Previous(); err != nil {
			return fail(err)
		}
		return nil
	case "skip":
		var payload indexPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(err)
		}
		if err := eng.Skip(payload.QuestionIndex); err != nil {
			return fail(err)
		}
		return nil
	case "finish":
		if _, err := h.service.Finish(r.Context(), attemptID); err != nil {
			return fail(err)
		}
		return nil
	case "violation":
		var payload violationPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(err)
		}
		eng.ReportViolation(payload.Category, payload.Metadata)
		return nil
	case "location":
		var loc domain.Location
		if err := json.Unmarshal(inbound.Payload, &loc); err != nil {
			return fail(err)
		}
		eng.UpdateLocation(r.Context(), loc)
		return nil
	case "retake":
		if err := h.service.Retake(attemptID); err != nil {
			return fail(err)
		}
		return &outboundMessage[any]{Type: "configured", Payload: configuredView(attempt)}
	default:
		return &outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}

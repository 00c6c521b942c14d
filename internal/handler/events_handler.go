package handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/service"
)

// EventsHandler streams grading events to websocket clients. Events are
// consumed from the message bus so every API instance serves the same
// stream regardless of which one graded the submission.
type EventsHandler struct {
	conn        *nats.Conn
	subjectBase string
	logger      zerolog.Logger
}

// NewEventsHandler builds the grading event stream handler. A nil NATS
// connection disables the stream; the route then rejects upgrades.
func NewEventsHandler(conn *nats.Conn, subjectBase string, logger zerolog.Logger) *EventsHandler {
	if subjectBase == "" {
		subjectBase = "assess.grading"
	}
	return &EventsHandler{
		conn:        conn,
		subjectBase: subjectBase,
		logger:      logger.With().Str("component", "events_handler").Logger(),
	}
}

// Register binds the websocket route on the provided router group.
func (h *EventsHandler) Register(router fiber.Router) {
	router.Use("/grading-events", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if h.conn == nil {
			return fiber.ErrServiceUnavailable
		}
		return c.Next()
	})
	router.Get("/grading-events", websocket.New(h.handleConnection))
}

func (h *EventsHandler) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	var filterAssessment uint64
	if raw := strings.TrimSpace(conn.Query("assessment_id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid assessment_id"))
			return
		}
		filterAssessment = parsed
	}

	events := make(chan *nats.Msg, 64)
	subscription, err := h.conn.ChanSubscribe(h.subjectBase+".>", events)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to subscribe to grading events")
		return
	}
	defer func() {
		_ = subscription.Unsubscribe()
	}()

	// Reads only serve to detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info().Uint64("assessment_filter", filterAssessment).Msg("grading event stream connected")

	for {
		select {
		case <-done:
			h.logger.Info().Msg("grading event stream disconnected")
			return
		case msg := <-events:
			if filterAssessment != 0 {
				var event service.GradingEvent
				if err := json.Unmarshal(msg.Data, &event); err != nil {
					continue
				}
				if uint64(event.AssessmentID) != filterAssessment {
					continue
				}
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				h.logger.Debug().Err(err).Msg("grading event write failed, closing stream")
				return
			}
		}
	}
}

package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/middleware"
)

// Grading event types published to the message bus.
const (
	EventSubmissionGraded   = "submission.graded"
	EventGradeOverridden    = "grade.overridden"
	EventRevisionRequested  = "revision.requested"
	EventPlagiarismFlagged  = "plagiarism.flagged"
	EventSubmissionReceived = "submission.received"
)

// GradingEvent is the payload fanned out to dashboards after a grading
// workflow step completes.
type GradingEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	SubmissionID  uint      `json:"submission_id"`
	AssessmentID  uint      `json:"assessment_id"`
	StudentID     uint      `json:"student_id"`
	Percentage    float64   `json:"percentage,omitempty"`
	Grade         string    `json:"grade,omitempty"`
	ActorID       uint      `json:"actor_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventPublisher fans grading events out to interested consumers.
// Publishing is best effort; a bus outage never fails a grading call.
type EventPublisher interface {
	Publish(ctx context.Context, event GradingEvent)
}

type natsPublisher struct {
	conn        *nats.Conn
	subjectBase string
	logger      zerolog.Logger
}

// NewNATSPublisher builds a publisher emitting events on
// "<base>.<event type>" subjects.
func NewNATSPublisher(conn *nats.Conn, subjectBase string, logger zerolog.Logger) EventPublisher {
	if subjectBase == "" {
		subjectBase = "assess.grading"
	}
	return &natsPublisher{
		conn:        conn,
		subjectBase: subjectBase,
		logger:      logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *natsPublisher) Publish(ctx context.Context, event GradingEvent) {
	if p.conn == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = middleware.CorrelationIDFromContext(ctx)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("type", event.Type).Msg("failed to marshal grading event")
		return
	}

	subject := p.subjectBase + "." + event.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish grading event")
	}
}

// NopPublisher discards all events; used when NATS is not configured.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, GradingEvent) {}

package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const AuditRoutingKey = "audit.chat"

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *int         `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level    string `json:"level"`
	Text     string `json:"text"`
	ThreadID int    `json:"thread_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. Publish failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *int, threadID int) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Debug().Str("level", level).Str("request_id", requestID).Int("thread_id", threadID).Str("text", text).Msg("audit emit")
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:    level,
			Text:     text,
			ThreadID: threadID,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Warn().Err(err).Msg("audit publish failed")
	}
}

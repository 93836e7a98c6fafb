package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"storefront-chat/internal/models"
	"storefront-chat/internal/observability"
)

// Routing keys for domain events.
const (
	RoutingThreadStarted  = "chat.thread.started"
	RoutingThreadDeleted  = "chat.thread.deleted"
	RoutingThreadRead     = "chat.thread.read"
	RoutingMessageCreated = "chat.message.created"
	RoutingMessageUpdated = "chat.message.updated"
)

const eventType = "chat_events"

type threadEventPayload struct {
	ThreadID int `json:"thread_id"`
	SellerID int `json:"seller_id"`
	BuyerID  int `json:"buyer_id"`
	ActorID  int `json:"actor_id"`
}

type messageEventPayload struct {
	ThreadID   int    `json:"thread_id"`
	MessageIDs []int  `json:"message_ids"`
	SenderID   int    `json:"sender_id"`
	ReceiverID int    `json:"receiver_id"`
	Action     string `json:"action,omitempty"`
	Deferred   bool   `json:"deferred,omitempty"`
}

type readEventPayload struct {
	ThreadID int `json:"thread_id"`
	ReaderID int `json:"reader_id"`
	Marked   int `json:"marked"`
}

func threadPayload(t models.Thread, actorID int) threadEventPayload {
	return threadEventPayload{ThreadID: t.ID, SellerID: t.SellerID, BuyerID: t.BuyerID, ActorID: actorID}
}

func messageIDs(msgs []models.Message) []int {
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// publish sends a domain event. Failures are logged and counted, never returned.
func (s *Service) publish(ctx context.Context, routingKey, name string, payload any) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, routingKey, observability.EventEnvelope{
		EventType: eventType,
		EventName: name,
		Payload:   payload,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		log.Warn().Err(err).Str("routing_key", routingKey).Msg("domain event publish failed")
	}
}

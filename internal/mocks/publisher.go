package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storefront-chat/internal/telemetry"
)

// PublisherMock stands in for the AMQP publisher behind audit and domain events.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ExpectAudit expects one audit envelope with text about threadID, attributed to userID.
func (m *PublisherMock) ExpectAudit(text string, threadID, userID int) *mock.Call {
	return m.On("Publish", mock.Anything, telemetry.AuditRoutingKey, mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == text &&
			env.Payload.ThreadID == threadID &&
			env.UserID != nil && *env.UserID == userID
	})).Once()
}

// ExpectAnyAudit expects one audit envelope of any content.
func (m *PublisherMock) ExpectAnyAudit() *mock.Call {
	return m.On("Publish", mock.Anything, telemetry.AuditRoutingKey, mock.AnythingOfType("telemetry.AuditEnvelope")).Once()
}

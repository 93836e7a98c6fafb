package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, AuditRoutingKey, "storefront-chat", "test")
	userID := 10

	emitter.Emit(context.Background(), "INFO", "thread deleted", "req-1", &userID, 3)

	require.Len(t, pub.events, 1)
	assert.Equal(t, AuditRoutingKey, pub.keys[0])
	env, ok := pub.events[0].(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "storefront-chat", env.Service)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, 10, *env.UserID)
	assert.Equal(t, AuditPayload{Level: "INFO", Text: "thread deleted", ThreadID: 3}, env.Payload)
}

func TestAuditEmitterSwallowsPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("down")}
	NewAuditEmitter(pub, AuditRoutingKey, "s", "e").Emit(context.Background(), "WARN", "x", "", nil, 0)
	assert.Len(t, pub.events, 1)
}

func TestNilAuditEmitter(t *testing.T) {
	var e *AuditEmitter
	assert.NotPanics(t, func() { e.Emit(context.Background(), "INFO", "x", "", nil, 0) })
}

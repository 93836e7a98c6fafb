package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-chat/internal/auth"
	"storefront-chat/internal/models"
	"storefront-chat/internal/presence"
)

type tokenProvider map[string]int

func (p tokenProvider) Resolve(token string) (auth.Identity, error) {
	id, ok := p[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: id}, nil
}

type participantSet map[int][]int

func (p participantSet) IsParticipant(_ context.Context, threadID, userID int) (bool, error) {
	if threadID == 500 {
		return false, errors.New("db down")
	}
	for _, id := range p[threadID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func signal(t *testing.T, kind string, payload any) Signal {
	t.Helper()
	sig := Signal{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		sig.Payload = raw
	}
	return sig
}

func newTestHandler() (*Handler, *Hub) {
	hub := NewHub(presence.NewRegistry(), nil)
	h := NewHandler(hub, tokenProvider{"alice": 1, "bob": 2, "eve": 3}, participantSet{7: {1, 2}}, Options{})
	return h, hub
}

func TestHandleSignalAuthThenJoinAndType(t *testing.T) {
	h, hub := newTestHandler()
	alice := newTestClient("alice-conn", 16)
	bob := newTestClient("bob-conn", 16)
	hub.Register(alice)
	hub.Register(bob)

	h.handleSignal(alice, signal(t, SignalAuth, map[string]string{"token": "alice"}))
	h.handleSignal(bob, signal(t, SignalAuth, map[string]string{"token": "bob"}))
	require.Equal(t, 1, alice.UserID())
	require.Equal(t, 2, bob.UserID())

	h.handleSignal(alice, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	h.handleSignal(bob, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	require.True(t, hub.InThread(alice, 7))
	drain(alice)
	drain(bob)

	h.handleSignal(alice, signal(t, SignalTyping, map[string]int{"thread_id": 7}))

	assert.Empty(t, drain(alice))
	events := drain(bob)
	require.Len(t, events, 1)
	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, models.TypingPayload{ThreadID: 7, From: 1}, payload)
}

func TestHandleSignalIgnoredBeforeAuth(t *testing.T) {
	h, hub := newTestHandler()
	c := newTestClient("anon", 8)
	hub.Register(c)

	h.handleSignal(c, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	assert.False(t, hub.InThread(c, 7))

	h.handleSignal(c, signal(t, SignalAuth, map[string]string{"token": "forged"}))
	assert.Equal(t, 0, c.UserID())
}

func TestHandleSignalJoinRequiresParticipation(t *testing.T) {
	h, hub := newTestHandler()
	eve := newTestClient("eve-conn", 8)
	hub.Register(eve)
	h.handleSignal(eve, signal(t, SignalAuth, map[string]string{"token": "eve"}))

	h.handleSignal(eve, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	h.handleSignal(eve, signal(t, SignalThreadJoin, map[string]int{"thread_id": 500}))

	assert.False(t, hub.InThread(eve, 7))
	assert.False(t, hub.InThread(eve, 500))
}

func TestHandleSignalTypingRequiresJoin(t *testing.T) {
	h, hub := newTestHandler()
	alice := newTestClient("alice-conn", 8)
	bob := newTestClient("bob-conn", 8)
	hub.Register(alice)
	hub.Register(bob)
	h.handleSignal(alice, signal(t, SignalAuth, map[string]string{"token": "alice"}))
	h.handleSignal(bob, signal(t, SignalAuth, map[string]string{"token": "bob"}))
	h.handleSignal(bob, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	drain(bob)

	h.handleSignal(alice, signal(t, SignalTyping, map[string]int{"thread_id": 7}))

	assert.Empty(t, drain(bob))
}

func TestHandleSignalPingRepliesPong(t *testing.T) {
	h, hub := newTestHandler()
	c := newTestClient("c", 8)
	hub.Register(c)

	h.handleSignal(c, Signal{Type: SignalPing})

	assert.Equal(t, []models.EventType{models.EventPong}, typesOf(drain(c)))
}

func TestHandleSignalLeave(t *testing.T) {
	h, hub := newTestHandler()
	c := newTestClient("c", 8)
	hub.Register(c)
	h.handleSignal(c, signal(t, SignalAuth, map[string]string{"token": "bob"}))
	h.handleSignal(c, signal(t, SignalThreadJoin, map[string]int{"thread_id": 7}))
	require.True(t, hub.InThread(c, 7))

	h.handleSignal(c, signal(t, SignalThreadLeave, map[string]int{"thread_id": 7}))

	assert.False(t, hub.InThread(c, 7))
}

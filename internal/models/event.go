package models

// EventType names a server to client realtime event.
type EventType string

const (
	EventMessage       EventType = "chat:message"
	EventMessageAck    EventType = "chat:message:ack"
	EventMessageUpdate EventType = "chat:message:update"
	EventUnread        EventType = "chat:unread"
	EventUnreadReplace EventType = "chat:unread:replace"
	EventTyping        EventType = "thread:typing"
	EventPresence      EventType = "presence:update"
	EventPong          EventType = "pong"
)

// Event is emitted over websocket connections. Payload is one of the *Payload types below.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type MessagesPayload struct {
	ThreadID int       `json:"thread_id"`
	Messages []Message `json:"messages"`
}

type MessageUpdatePayload struct {
	ThreadID int     `json:"thread_id"`
	Message  Message `json:"message"`
}

type UnreadDeltaPayload struct {
	ThreadID int `json:"thread_id"`
	Delta    int `json:"delta"`
}

type UnreadTotalPayload struct {
	Total int `json:"total"`
}

type TypingPayload struct {
	ThreadID int `json:"thread_id"`
	From     int `json:"from"`
}

type PresencePayload struct {
	UserID int  `json:"user_id"`
	Online bool `json:"online"`
}

func NewMessageEvent(threadID int, msgs []Message) Event {
	return Event{Type: EventMessage, Payload: MessagesPayload{ThreadID: threadID, Messages: ProjectAll(msgs)}}
}

func NewAckEvent(threadID int, msgs []Message) Event {
	return Event{Type: EventMessageAck, Payload: MessagesPayload{ThreadID: threadID, Messages: ProjectAll(msgs)}}
}

func NewMessageUpdateEvent(msg Message) Event {
	return Event{Type: EventMessageUpdate, Payload: MessageUpdatePayload{ThreadID: msg.ThreadID, Message: msg.Projection()}}
}

func NewUnreadDeltaEvent(threadID, delta int) Event {
	return Event{Type: EventUnread, Payload: UnreadDeltaPayload{ThreadID: threadID, Delta: delta}}
}

func NewUnreadReplaceEvent(total int) Event {
	return Event{Type: EventUnreadReplace, Payload: UnreadTotalPayload{Total: total}}
}

func NewTypingEvent(threadID, from int) Event {
	return Event{Type: EventTyping, Payload: TypingPayload{ThreadID: threadID, From: from}}
}

func NewPresenceEvent(userID int, online bool) Event {
	return Event{Type: EventPresence, Payload: PresencePayload{UserID: userID, Online: online}}
}

func NewPongEvent() Event {
	return Event{Type: EventPong}
}

package models

import "time"

// Attachment describes a stored binary object; the bytes themselves live in object storage.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"type"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

// Message represents a chat message.
type Message struct {
	ID         int         `json:"id"`
	ThreadID   int         `json:"thread_id"`
	SenderID   int         `json:"sender_id"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ReadAt     *time.Time  `json:"read_at"`
	EditedAt   *time.Time  `json:"edited_at"`
	DeletedAt  *time.Time  `json:"deleted_at"`
}

// IsDeleted reports whether the message was soft-deleted.
func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Projection returns the client-visible form: deleted messages lose body and attachment.
func (m Message) Projection() Message {
	if m.IsDeleted() {
		m.Body = ""
		m.Attachment = nil
	}
	return m
}

// NewMessage is one row to insert.
type NewMessage struct {
	Body       string
	Attachment *Attachment
}

// ProjectAll applies Projection to every message.
func ProjectAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Projection()
	}
	return out
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront-chat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageDeleted  = errors.New("message deleted")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateBatch(ctx context.Context, threadID, senderID int, msgs []models.NewMessage) ([]models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListByThread(ctx context.Context, threadID int) ([]models.Message, error)
	UpdateBody(ctx context.Context, messageID int, body string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int) (models.Message, error)
	MarkThreadRead(ctx context.Context, threadID, readerID int) (int, error)
	CountUnread(ctx context.Context, userID int) (int, error)
	CountUnreadInThread(ctx context.Context, threadID, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, thread_id, sender_id, body, attachment_url, attachment_type, attachment_name, attachment_size,
    created_at, read_at, edited_at, deleted_at`

type messageRow struct {
	ID             int            `db:"id"`
	ThreadID       int            `db:"thread_id"`
	SenderID       int            `db:"sender_id"`
	Body           string         `db:"body"`
	AttachmentURL  sql.NullString `db:"attachment_url"`
	AttachmentType sql.NullString `db:"attachment_type"`
	AttachmentName sql.NullString `db:"attachment_name"`
	AttachmentSize sql.NullInt64  `db:"attachment_size"`
	CreatedAt      time.Time      `db:"created_at"`
	ReadAt         sql.NullTime   `db:"read_at"`
	EditedAt       sql.NullTime   `db:"edited_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		SenderID:  r.SenderID,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		ReadAt:    nullTime(r.ReadAt),
		EditedAt:  nullTime(r.EditedAt),
		DeletedAt: nullTime(r.DeletedAt),
	}
	if r.AttachmentURL.Valid {
		msg.Attachment = &models.Attachment{
			URL:      r.AttachmentURL.String,
			MimeType: r.AttachmentType.String,
			Name:     r.AttachmentName.String,
			Size:     r.AttachmentSize.Int64,
		}
	}
	return msg
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// CreateBatch inserts all rows and bumps the thread's updated_at in one transaction.
func (r *MessageRepo) CreateBatch(ctx context.Context, threadID, senderID int, msgs []models.NewMessage) ([]models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	created := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		var url, mimeType, name sql.NullString
		var size sql.NullInt64
		if m.Attachment != nil {
			url = sql.NullString{String: m.Attachment.URL, Valid: true}
			mimeType = sql.NullString{String: m.Attachment.MimeType, Valid: true}
			name = sql.NullString{String: m.Attachment.Name, Valid: true}
			size = sql.NullInt64{Int64: m.Attachment.Size, Valid: true}
		}

		var row messageRow
		if err = tx.QueryRowxContext(ctx, `INSERT INTO chat_messages
                (thread_id, sender_id, body, attachment_url, attachment_type, attachment_name, attachment_size)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING `+messageColumns, threadID, senderID, m.Body, url, mimeType, name, size).StructScan(&row); err != nil {
			return nil, err
		}
		created = append(created, row.toModel())
	}

	if _, err = tx.ExecContext(ctx, `UPDATE chat_threads SET updated_at = NOW() WHERE id=$1`, threadID); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// ListByThread returns the thread's messages in display order.
func (r *MessageRepo) ListByThread(ctx context.Context, threadID int) ([]models.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM chat_messages WHERE thread_id=$1 ORDER BY created_at ASC, id ASC`, threadID); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// UpdateBody replaces the body of a live message and stamps edited_at.
func (r *MessageRepo) UpdateBody(ctx context.Context, messageID int, body string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `UPDATE chat_messages SET body=$2, edited_at=NOW()
        WHERE id=$1 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID, body)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.Get(ctx, messageID)
		if getErr != nil {
			return models.Message{}, getErr
		}
		if existing.IsDeleted() {
			return models.Message{}, ErrMessageDeleted
		}
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// SoftDelete stamps deleted_at. Deleting an already deleted message returns it unchanged.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `UPDATE chat_messages SET deleted_at=NOW()
        WHERE id=$1 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.Get(ctx, messageID)
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// MarkThreadRead stamps read_at on every unread message in the thread not sent by readerID.
func (r *MessageRepo) MarkThreadRead(ctx context.Context, threadID, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET read_at=NOW()
        WHERE thread_id=$1 AND sender_id<>$2 AND read_at IS NULL`, threadID, readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// CountUnread counts unread incoming messages across all of the user's threads.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages m
        JOIN chat_threads t ON t.id = m.thread_id
        WHERE (t.seller_id=$1 OR t.buyer_id=$1) AND m.sender_id<>$1 AND m.read_at IS NULL`, userID)
	return count, err
}

// CountUnreadInThread counts unread incoming messages in one thread.
func (r *MessageRepo) CountUnreadInThread(ctx context.Context, threadID, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages
        WHERE thread_id=$1 AND sender_id<>$2 AND read_at IS NULL`, threadID, userID)
	return count, err
}

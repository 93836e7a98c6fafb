package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"storefront-chat/internal/models"
)

var ErrThreadNotFound = errors.New("thread not found")

// ThreadRepository abstracts thread and participant persistence.
type ThreadRepository interface {
	FindBetween(ctx context.Context, userA, userB int) (models.Thread, error)
	CreateOrGet(ctx context.Context, sellerID, buyerID int) (models.Thread, bool, error)
	Get(ctx context.Context, threadID int) (models.Thread, error)
	ListForUser(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error)
	Delete(ctx context.Context, threadID int) error
	Participant(ctx context.Context, threadID int, role models.Role) (models.ParticipantState, error)
	SetFlags(ctx context.Context, threadID int, role models.Role, flags models.ParticipantFlags) (models.ParticipantState, error)
	IncrementMutedUnread(ctx context.Context, threadID int, role models.Role, n int) error
	ResetMutedUnread(ctx context.Context, threadID int, role models.Role) error
}

// ThreadRepo is a sqlx implementation of ThreadRepository.
type ThreadRepo struct {
	db *sqlx.DB
}

// NewThreadRepo constructs a ThreadRepo.
func NewThreadRepo(db *sqlx.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

const threadColumns = `id, seller_id, buyer_id, created_at, updated_at`

const participantColumns = `thread_id, role, user_id, archived, muted, blocked, muted_unread`

// FindBetween looks up the thread between two users whichever side each one holds.
func (r *ThreadRepo) FindBetween(ctx context.Context, userA, userB int) (models.Thread, error) {
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM chat_threads
        WHERE (seller_id=$1 AND buyer_id=$2) OR (seller_id=$2 AND buyer_id=$1)`, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	return thread, err
}

// CreateOrGet returns the thread between the two users, inserting it with both participant rows
// when absent. The boolean reports whether this call created it. Roles are fixed by whoever created
// the thread first. A concurrent insert for the same pair loses on the unique index and re-reads
// the winner's row.
func (r *ThreadRepo) CreateOrGet(ctx context.Context, sellerID, buyerID int) (models.Thread, bool, error) {
	thread, err := r.FindBetween(ctx, sellerID, buyerID)
	if err == nil {
		return thread, false, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return models.Thread{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Thread{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRowxContext(ctx, `INSERT INTO chat_threads (seller_id, buyer_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING
        RETURNING `+threadColumns, sellerID, buyerID).StructScan(&thread)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		tx.Rollback()
		existing, findErr := r.FindBetween(ctx, sellerID, buyerID)
		return existing, false, findErr
	}
	if err != nil {
		return models.Thread{}, false, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (thread_id, role, user_id) VALUES ($1, 'seller', $2), ($1, 'buyer', $3)`,
		thread.ID, sellerID, buyerID); err != nil {
		return models.Thread{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Thread{}, false, err
	}
	return thread, true, nil
}

// Get fetches a thread by id.
func (r *ThreadRepo) Get(ctx context.Context, threadID int) (models.Thread, error) {
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM chat_threads WHERE id=$1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	return thread, err
}

// ListForUser returns the user's threads, most recent activity first.
func (r *ThreadRepo) ListForUser(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	query := `SELECT t.id, t.seller_id, t.buyer_id, t.created_at, t.updated_at,
            p.role, p.archived, p.muted, p.blocked, p.muted_unread,
            c.user_id AS counterpart_id,
            COALESCE(TRIM(u.first_name || ' ' || u.last_name), '') AS counterpart_name,
            COALESCE(u.avatar_url, '') AS counterpart_avatar,
            lm.last_text, lm.last_at,
            (SELECT COUNT(*) FROM chat_messages um
                WHERE um.thread_id = t.id AND um.sender_id <> $1 AND um.read_at IS NULL) AS unread
        FROM chat_threads t
        JOIN chat_participants p ON p.thread_id = t.id AND p.user_id = $1
        JOIN chat_participants c ON c.thread_id = t.id AND c.role <> p.role
        LEFT JOIN users u ON u.id = c.user_id
        LEFT JOIN LATERAL (
            SELECT CASE
                    WHEN m.deleted_at IS NOT NULL THEN ''
                    WHEN m.body <> '' THEN m.body
                    ELSE COALESCE(m.attachment_name, '')
                END AS last_text,
                m.created_at AS last_at
            FROM chat_messages m
            WHERE m.thread_id = t.id
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT 1
        ) lm ON TRUE
        WHERE ($2 = 'all' OR p.role = $2)
          AND ($3 = 'include' OR ($3 = 'exclude' AND NOT p.archived) OR ($3 = 'only' AND p.archived))
        ORDER BY COALESCE(lm.last_at, t.updated_at) DESC, t.id DESC`

	summaries := []models.ThreadSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query, userID, filter.Role, filter.Archived); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Delete removes a thread; messages and participants cascade.
func (r *ThreadRepo) Delete(ctx context.Context, threadID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_threads WHERE id=$1`, threadID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// Participant returns one side's state.
func (r *ThreadRepo) Participant(ctx context.Context, threadID int, role models.Role) (models.ParticipantState, error) {
	var state models.ParticipantState
	err := r.db.GetContext(ctx, &state, `SELECT `+participantColumns+` FROM chat_participants WHERE thread_id=$1 AND role=$2`, threadID, role)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParticipantState{}, ErrThreadNotFound
	}
	return state, err
}

// SetFlags applies the non-nil flags to one side.
func (r *ThreadRepo) SetFlags(ctx context.Context, threadID int, role models.Role, flags models.ParticipantFlags) (models.ParticipantState, error) {
	var state models.ParticipantState
	err := r.db.GetContext(ctx, &state, `UPDATE chat_participants SET
            archived = COALESCE($3, archived),
            muted = COALESCE($4, muted),
            blocked = COALESCE($5, blocked)
        WHERE thread_id=$1 AND role=$2
        RETURNING `+participantColumns, threadID, role, flags.Archived, flags.Muted, flags.Blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParticipantState{}, ErrThreadNotFound
	}
	return state, err
}

// IncrementMutedUnread adds n to one side's muted counter.
func (r *ThreadRepo) IncrementMutedUnread(ctx context.Context, threadID int, role models.Role, n int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET muted_unread = muted_unread + $3 WHERE thread_id=$1 AND role=$2`, threadID, role, n)
	return err
}

// ResetMutedUnread zeroes one side's muted counter.
func (r *ThreadRepo) ResetMutedUnread(ctx context.Context, threadID int, role models.Role) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET muted_unread = 0 WHERE thread_id=$1 AND role=$2 AND muted_unread <> 0`, threadID, role)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

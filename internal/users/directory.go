package users

import (
	"context"

	"github.com/jmoiron/sqlx"

	"storefront-chat/internal/models"
)

// Directory resolves user ids against the account store.
type Directory interface {
	Exists(ctx context.Context, userID int) (bool, error)
	BulkUsers(ctx context.Context, ids []int) ([]models.User, error)
}

// SQLDirectory reads the shared users table.
type SQLDirectory struct {
	db *sqlx.DB
}

// NewSQLDirectory constructs a SQLDirectory.
func NewSQLDirectory(db *sqlx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// Exists reports whether a user with the id is registered.
func (d *SQLDirectory) Exists(ctx context.Context, userID int) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID)
	return exists, err
}

// BulkUsers loads the users with the given ids; unknown ids are skipped.
func (d *SQLDirectory) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, first_name, last_name, avatar_url FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = d.db.SelectContext(ctx, &users, d.db.Rebind(query), args...)
	return users, err
}

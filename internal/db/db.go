package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect opens the database connection. Migrations are applied separately by Migrate.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Ping performs one storage round trip.
func Ping(ctx context.Context, db *sqlx.DB) error {
	var one int
	return db.GetContext(ctx, &one, `SELECT 1`)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS chat_threads (
        id BIGSERIAL PRIMARY KEY,
        seller_id BIGINT NOT NULL,
        buyer_id BIGINT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE(seller_id, buyer_id),
        CHECK (seller_id <> buyer_id)
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_threads_pair_uidx
        ON chat_threads (LEAST(seller_id, buyer_id), GREATEST(seller_id, buyer_id));`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
        thread_id BIGINT NOT NULL REFERENCES chat_threads(id) ON DELETE CASCADE,
        role TEXT NOT NULL CHECK (role IN ('seller', 'buyer')),
        user_id BIGINT NOT NULL,
        archived BOOLEAN NOT NULL DEFAULT FALSE,
        muted BOOLEAN NOT NULL DEFAULT FALSE,
        blocked BOOLEAN NOT NULL DEFAULT FALSE,
        muted_unread INT NOT NULL DEFAULT 0,
        PRIMARY KEY(thread_id, role)
    );`,
	`CREATE INDEX IF NOT EXISTS chat_participants_user_idx ON chat_participants(user_id);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
        id BIGSERIAL PRIMARY KEY,
        thread_id BIGINT NOT NULL REFERENCES chat_threads(id) ON DELETE CASCADE,
        sender_id BIGINT NOT NULL,
        body TEXT NOT NULL DEFAULT '',
        attachment_url TEXT,
        attachment_type TEXT,
        attachment_name TEXT,
        attachment_size BIGINT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        read_at TIMESTAMPTZ,
        edited_at TIMESTAMPTZ,
        deleted_at TIMESTAMPTZ,
        CHECK (body <> '' OR attachment_url IS NOT NULL OR deleted_at IS NOT NULL)
    );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_thread_idx ON chat_messages(thread_id, created_at, id);`,
	`CREATE INDEX IF NOT EXISTS chat_messages_unread_idx ON chat_messages(thread_id, sender_id) WHERE read_at IS NULL;`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}

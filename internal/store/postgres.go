// Package store persists finished complaints.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"minwondesk/internal/domain"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore writes complaints and their chat logs in one transaction.
type PostgresStore struct {
	db    txBeginner
	newID func() string
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return newPostgresStoreWithDB(pool)
}

func newPostgresStoreWithDB(db txBeginner) *PostgresStore {
	if db == nil {
		panic("store: db required")
	}
	return &PostgresStore{db: db, newID: uuid.NewString}
}

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("store: database url is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return pool, nil
}

// Submit is idempotent on complaint.ID: a complaint whose row already exists is
// left untouched.
func (s *PostgresStore) Submit(ctx context.Context, complaint domain.Complaint) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := complaint.ID
	if id == "" {
		id = s.newID()
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO complaints (
			id, group_type, topic_category, agency, summary, full_text,
			requires_visit, guidance, print_requested, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		id,
		string(complaint.GroupType),
		complaint.TopicCategory,
		complaint.Agency,
		complaint.Summary,
		complaint.FullText,
		complaint.RequiresVisit,
		complaint.Guidance,
		complaint.PrintRequested,
		complaint.Status,
	)
	if err != nil {
		return fmt.Errorf("store: insert complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	for i, line := range complaint.ChatLogs {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_logs (complaint_id, seq, speaker, message)
			VALUES ($1, $2, $3, $4)
		`, id, i, string(line.Speaker), line.Message)
		if err != nil {
			return fmt.Errorf("store: insert chat log %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"emailagent/internal/model"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ProcessingLogRepository struct {
	db *pgxpool.Pool
}

func NewProcessingLogRepository(db *pgxpool.Pool) *ProcessingLogRepository {
	return &ProcessingLogRepository{db: db}
}

// ListByEmail returns the newest entries for an email first.
func (r *ProcessingLogRepository) ListByEmail(ctx context.Context, emailID int64, limit int) ([]model.ProcessingLog, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, email_id, level, message, details, component, processing_time_ms, created_at
        FROM processing_logs
        WHERE email_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `, emailID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProcessingLog, error) {
		var l model.ProcessingLog
		err := row.Scan(&l.ID, &l.EmailID, &l.Level, &l.Message, &l.Details, &l.Component, &l.ProcessingTimeMs, &l.CreatedAt)
		return l, err
	})
}

func insertLog(ctx context.Context, db execer, log *model.ProcessingLog) error {
	_, err := db.Exec(ctx, `
        INSERT INTO processing_logs (email_id, level, message, details, component, processing_time_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
    `, log.EmailID, log.Level, log.Message, log.Details, log.Component, log.ProcessingTimeMs)
	if err != nil {
		return fmt.Errorf("failed to insert processing log: %w", err)
	}
	return nil
}

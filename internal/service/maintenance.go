package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontract "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/metrics"
	"emailagent/pkg/mq"
)

const staleSweepBatch = 100

// optimizedTables 每周 VACUUM ANALYZE 的表
var optimizedTables = []string{"emails", "email_attachments", "classification_rules", "processing_logs", "outbox_events"}

type MaintenanceStore interface {
	FindStale(ctx context.Context, staleAfter time.Duration, limit int) ([]model.EmailRef, error)
	PurgeQuarantine(ctx context.Context, olderThan time.Duration) (int64, error)
	CategoryStats(ctx context.Context, userID *int64) ([]model.CategoryStat, error)
	Optimize(ctx context.Context, table string) error
}

type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Maintenance holds the periodic jobs run by the worker's scheduler.
type Maintenance struct {
	store      MaintenanceStore
	publisher  Publisher
	staleAfter time.Duration
	quarantine time.Duration
	logger     *zap.Logger
}

func NewMaintenance(store MaintenanceStore, publisher Publisher, staleAfter time.Duration, quarantineDays int, logger *zap.Logger) *Maintenance {
	if quarantineDays <= 0 {
		quarantineDays = 30
	}
	return &Maintenance{
		store:      store,
		publisher:  publisher,
		staleAfter: staleAfter,
		quarantine: time.Duration(quarantineDays) * 24 * time.Hour,
		logger:     logger,
	}
}

// SweepStale republishes classify requests for emails stuck in processing.
func (m *Maintenance) SweepStale(ctx context.Context) (int, error) {
	refs, err := m.store.FindStale(ctx, m.staleAfter, staleSweepBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ref := range refs {
		err := m.publisher.PublishWithContext(ctx, mq.RoutingEmailClassify, mqcontract.EmailClassifyPayload{
			EmailID:     ref.ID,
			UserID:      ref.UserID,
			RequestID:   uuid.NewString(),
			Reason:      mqcontract.ReasonStale,
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			m.logger.Warn("Failed to republish stale email", zap.Int64("email_id", ref.ID), zap.Error(err))
			continue
		}
		sent++
	}

	if len(refs) > 0 {
		m.logger.Info("Stale emails republished", zap.Int("found", len(refs)), zap.Int("sent", sent))
	}
	metrics.AddMaintenanceRows("stale_sweep", int64(sent))
	return sent, nil
}

// PurgeQuarantine hard-deletes soft-deleted emails past the quarantine period.
func (m *Maintenance) PurgeQuarantine(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeQuarantine(ctx, m.quarantine)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Quarantine purged", zap.Int64("deleted", n), zap.Duration("older_than", m.quarantine))
	metrics.AddMaintenanceRows("quarantine_purge", n)
	return n, nil
}

// RecordStats logs the per-category totals and exports them as gauges.
func (m *Maintenance) RecordStats(ctx context.Context) ([]model.CategoryStat, error) {
	stats, err := m.store.CategoryStats(ctx, nil)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, st := range stats {
		metrics.SetEmailsByCategory(string(st.Category), st.Count)
		total += st.Count
	}
	m.logger.Info("Daily classification stats", zap.Int64("total", total), zap.Any("categories", stats))
	return stats, nil
}

// OptimizeDatabase runs VACUUM ANALYZE on each main table. A failing table
// does not stop the others; the errors are returned joined.
func (m *Maintenance) OptimizeDatabase(ctx context.Context) error {
	var errs []error
	done := 0
	for _, table := range optimizedTables {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		if err := m.store.Optimize(ctx, table); err != nil {
			m.logger.Warn("Failed to optimize table", zap.String("table", table), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		done++
		m.logger.Debug("Table optimized", zap.String("table", table), zap.Duration("took", time.Since(start)))
	}
	metrics.AddMaintenanceRows("optimize_db", int64(done))
	m.logger.Info("Database optimized", zap.Int("tables", done), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontract "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/logger"
	"emailagent/pkg/trace"
)

const defaultReclassifyBatch = 200

// ReclassifyStore resets classified emails to pending and queues a classify
// request for each one.
type ReclassifyStore interface {
	ResetForReclassify(ctx context.Context, userID int64, category *model.Category, limit int, payload func(model.EmailRef) any) (int, error)
}

type Reclassifier struct {
	store     ReclassifyStore
	batchSize int
	logger    *zap.Logger
}

func NewReclassifier(store ReclassifyStore, batchSize int, logger *zap.Logger) *Reclassifier {
	if batchSize <= 0 {
		batchSize = defaultReclassifyBatch
	}
	return &Reclassifier{store: store, batchSize: batchSize, logger: logger}
}

// Reclassify sends the user's classified emails (optionally only those in
// category) back through the pipeline. It returns how many were queued.
func (r *Reclassifier) Reclassify(ctx context.Context, userID int64, category *model.Category) (int, error) {
	log := logger.WithTrace(ctx, r.logger).With(zap.Int64("user_id", userID))
	traceID := trace.FromContext(ctx)

	payload := func(ref model.EmailRef) any {
		return mqcontract.EmailClassifyPayload{
			EmailID:     ref.ID,
			UserID:      ref.UserID,
			RequestID:   uuid.NewString(),
			TraceID:     traceID,
			Reason:      mqcontract.ReasonReclassify,
			RequestedAt: time.Now().UTC(),
		}
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.store.ResetForReclassify(ctx, userID, category, r.batchSize, payload)
		total += n
		if err != nil {
			log.Error("Reclassification batch failed", zap.Int("queued", total), zap.Error(err))
			return total, err
		}
		if n < r.batchSize {
			break
		}
	}

	fields := []zap.Field{zap.Int("queued", total)}
	if category != nil {
		fields = append(fields, zap.String("category", string(*category)))
	}
	log.Info("Emails queued for reclassification", fields...)
	return total, nil
}

package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/logger"
	"emailagent/pkg/mq"
	"emailagent/pkg/trace"
	"emailagent/pkg/util"
)

// ActionStore applies the folder/delete intent recorded with a decision.
type ActionStore interface {
	ApplyAction(ctx context.Context, emailID int64, folder *string, autoDelete bool) (model.Status, bool, error)
}

type ActionHandler struct {
	store  ActionStore
	logger *zap.Logger
}

func NewActionHandler(store ActionStore, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{store: store, logger: logger}
}

// Handle processes an email.classified event: auto-delete wins over archive.
func (h *ActionHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailClassifiedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal classified payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return mq.Reject(fmt.Errorf("json_unmarshal_error: %w", err))
	}
	if !p.AutoDelete && (p.TargetFolder == nil || *p.TargetFolder == "") {
		return nil
	}

	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.Int64("email_id", p.EmailID))

	status, changed, err := h.store.ApplyAction(ctx, p.EmailID, p.TargetFolder, p.AutoDelete)
	if err != nil {
		retryable, errType := util.IsRetryableError(err)
		log.Error("Failed to apply classification action",
			zap.String("error_type", errType),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if !retryable {
			return nil
		}
		return err
	}

	if !changed {
		log.Debug("Email no longer classified, action skipped")
		return nil
	}
	fields := []zap.Field{zap.String("status", string(status))}
	if p.RuleID != nil {
		fields = append(fields, zap.Int64("rule_id", *p.RuleID))
	}
	log.Info("Classification action applied", fields...)
	return nil
}

package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/internal/service"
	"emailagent/pkg/logger"
	"emailagent/pkg/mq"
	"emailagent/pkg/trace"
	"emailagent/pkg/util"
)

const (
	classifyHandlerName = "classify"
	defaultMaxRetries   = 5
)

// EmailClassifier runs one classification attempt and owns the
// processing -> error transition.
type EmailClassifier interface {
	ClassifyEmail(ctx context.Context, emailID int64, token string) (*model.Decision, error)
	MarkError(ctx context.Context, emailID int64, reason string) error
}

type ClassifyHandler struct {
	classifier   EmailClassifier
	deduper      Deduper
	retryCounter RetryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewClassifyHandler(
	classifier EmailClassifier,
	deduper Deduper,
	retryCounter RetryCounter,
	maxRetries int64,
	logger *zap.Logger,
) *ClassifyHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &ClassifyHandler{
		classifier:   classifier,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Handle processes an email.classify message.
// nil acks the message; an error nacks it for redelivery, except for
// mq.Reject errors which go to the DLQ.
func (h *ClassifyHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailClassifyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal classify payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return mq.Reject(fmt.Errorf("json_unmarshal_error: %w", err))
	}
	if p.EmailID <= 0 {
		return mq.Reject(fmt.Errorf("invalid email_id %d", p.EmailID))
	}

	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	if p.RequestID == "" {
		p.RequestID = uuid.NewString()
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("email_id", p.EmailID),
		zap.String("request_id", p.RequestID),
	)

	if !h.deduper.AcquireOnce(ctx, classifyHandlerName, p.RequestID) {
		return nil
	}

	log.Info("Processing email classification", zap.String("reason", p.Reason))

	_, err := h.classifier.ClassifyEmail(ctx, p.EmailID, p.RequestID)
	retryKey := util.FormatRetryKey(classifyHandlerName, p.EmailID)

	switch {
	case err == nil:
		if err := h.retryCounter.Reset(ctx, retryKey); err != nil {
			log.Debug("Failed to reset retry counter", zap.Error(err))
		}
		return nil

	case errors.Is(err, model.ErrNotClaimable):
		// 已分类或另一个尝试正在处理
		log.Debug("Email not claimable, skipping", zap.Error(err))
		return nil

	case errors.Is(err, model.ErrEmailNotFound):
		log.Warn("Email not found, dropping message")
		return nil

	case ctx.Err() != nil:
		// 关闭中：保持 processing，由重投或 stale sweeper 接手
		h.deduper.Release(context.WithoutCancel(ctx), classifyHandlerName, p.RequestID)
		return err
	}

	retryable, errType := util.IsRetryableError(err)
	if errors.Is(err, service.ErrPersist) {
		retryable = true
	}
	retryCount, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(cerr))
		retryCount = 1
	}

	log.Error("Classification attempt failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry_count", retryCount),
		zap.Int64("max_retries", h.maxRetries),
		zap.Error(err),
	)

	if !util.ShouldRetry(retryCount, h.maxRetries, retryable) {
		if merr := h.classifier.MarkError(ctx, p.EmailID, err.Error()); merr != nil {
			log.Error("Failed to mark email as error", zap.Error(merr))
			h.deduper.Release(ctx, classifyHandlerName, p.RequestID)
			return merr
		}
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Warn("Giving up on email, marked as error", zap.Int64("retry_count", retryCount))
		return nil
	}

	h.deduper.Release(ctx, classifyHandlerName, p.RequestID)
	return err
}

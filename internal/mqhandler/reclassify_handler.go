package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/mq"
	"emailagent/pkg/trace"
)

const reclassifyHandlerName = "reclassify"

type Reclassifier interface {
	Reclassify(ctx context.Context, userID int64, category *model.Category) (int, error)
}

type ReclassifyHandler struct {
	reclassifier Reclassifier
	deduper      Deduper
	logger       *zap.Logger
}

func NewReclassifyHandler(reclassifier Reclassifier, deduper Deduper, logger *zap.Logger) *ReclassifyHandler {
	return &ReclassifyHandler{reclassifier: reclassifier, deduper: deduper, logger: logger}
}

// Handle processes an email.reclassify.requested message.
func (h *ReclassifyHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ReclassifyRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return mq.Reject(fmt.Errorf("json_unmarshal_error: %w", err))
	}

	var category *model.Category
	if p.Category != nil {
		c, ok := model.ParseCategory(*p.Category)
		if !ok {
			return mq.Reject(fmt.Errorf("unknown category %q", *p.Category))
		}
		category = &c
	}

	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	if p.RequestID != "" && !h.deduper.AcquireOnce(ctx, reclassifyHandlerName, p.RequestID) {
		return nil
	}

	if _, err := h.reclassifier.Reclassify(ctx, p.UserID, category); err != nil {
		if p.RequestID != "" {
			h.deduper.Release(context.WithoutCancel(ctx), reclassifyHandlerName, p.RequestID)
		}
		return err
	}
	return nil
}

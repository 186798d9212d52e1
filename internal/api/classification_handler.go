package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/internal/rules"
	"emailagent/pkg/logger"
	"emailagent/pkg/mq"
	"emailagent/pkg/trace"
)

type ClassificationHandler struct {
	previewer Previewer
	rules     RuleLister
	publisher Publisher
	logger    *zap.Logger
}

func NewClassificationHandler(previewer Previewer, rules RuleLister, publisher Publisher, logger *zap.Logger) *ClassificationHandler {
	return &ClassificationHandler{
		previewer: previewer,
		rules:     rules,
		publisher: publisher,
		logger:    logger,
	}
}

type testRequest struct {
	Subject         string   `json:"subject"`
	Sender          string   `json:"sender"`
	BodyPreview     string   `json:"body_preview"`
	HasAttachments  bool     `json:"has_attachments"`
	AttachmentNames []string `json:"attachment_names" binding:"max=100"`
}

type ruleResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	TargetFolder *string `json:"target_folder,omitempty"`
	AutoDelete   bool    `json:"auto_delete"`
}

type testResponse struct {
	Category         model.Category `json:"category"`
	Confidence       int            `json:"confidence"`
	Reason           string         `json:"reason"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	ModelCategory    model.Category `json:"model_category"`
	ModelConfidence  int            `json:"model_confidence"`
	Fallback         bool           `json:"fallback"`
	Rule             *ruleResponse  `json:"rule"`
}

// Test handles POST /classification/test: classify without persisting.
func (h *ClassificationHandler) Test(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Sender) == "" && strings.TrimSpace(req.BodyPreview) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of subject, sender or body_preview is required"})
		return
	}

	summary := model.EmailSummary{
		Sender:          req.Sender,
		Subject:         req.Subject,
		BodyPreview:     req.BodyPreview,
		HasAttachments:  req.HasAttachments || len(req.AttachmentNames) > 0,
		AttachmentNames: req.AttachmentNames,
	}

	d, err := h.previewer.Preview(c.Request.Context(), userID, summary)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Classification preview failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "classification failed"})
		return
	}

	resp := testResponse{
		Category:         d.Verdict.Category,
		Confidence:       d.Verdict.Confidence,
		Reason:           d.Verdict.Reason,
		ProcessingTimeMs: d.Duration.Milliseconds(),
		ModelCategory:    d.ModelVerdict.Category,
		ModelConfidence:  d.ModelVerdict.Confidence,
		Fallback:         d.Fallback,
	}
	if d.Rule != nil {
		resp.Rule = &ruleResponse{
			ID:           d.Rule.RuleID,
			Name:         d.Rule.RuleName,
			TargetFolder: d.Rule.TargetFolder,
			AutoDelete:   d.Rule.AutoDelete,
		}
	}
	c.JSON(http.StatusOK, resp)
}

type ruleView struct {
	model.ClassificationRule
	Valid         bool   `json:"valid"`
	InvalidReason string `json:"invalid_reason,omitempty"`
}

// ListRules handles GET /classification/rules, in evaluation order.
func (h *ClassificationHandler) ListRules(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	list, err := h.rules.ListByUser(c.Request.Context(), userID)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to list rules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch rules"})
		return
	}
	rules.Sort(list)

	views := make([]ruleView, 0, len(list))
	for _, r := range list {
		v := ruleView{ClassificationRule: r, Valid: true}
		if _, err := rules.Compile(r); err != nil {
			v.Valid = false
			v.InvalidReason = err.Error()
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{"rules": views})
}

// ListCategories handles GET /classification/categories.
func (h *ClassificationHandler) ListCategories(c *gin.Context) {
	type category struct {
		Value       model.Category `json:"value"`
		Description string         `json:"description"`
	}
	all := model.AllCategories()
	out := make([]category, 0, len(all))
	for _, cat := range all {
		out = append(out, category{Value: cat, Description: cat.Description()})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

type reclassifyRequest struct {
	Category *string `json:"category"`
}

// Reclassify handles POST /classification/reclassify. The work is done by
// the worker; this only queues the request.
func (h *ClassificationHandler) Reclassify(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req reclassifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	if req.Category != nil {
		cat, ok := model.ParseCategory(*req.Category)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		s := string(cat)
		req.Category = &s
	}

	ctx := c.Request.Context()
	payload := mqcontracts.ReclassifyRequestedPayload{
		UserID:    userID,
		Category:  req.Category,
		RequestID: uuid.NewString(),
		TraceID:   trace.FromContext(ctx),
	}
	if err := h.publisher.PublishWithContext(ctx, mq.RoutingReclassifyRequested, payload); err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to publish reclassify request",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue reclassification"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"request_id": payload.RequestID,
	})
}

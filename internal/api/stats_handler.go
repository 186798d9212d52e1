package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emailagent/internal/model"
	"emailagent/pkg/logger"
)

type StatsHandler struct {
	stats  StatsReader
	logger *zap.Logger
}

func NewStatsHandler(stats StatsReader, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

// Categories handles GET /stats/categories for the caller's emails.
func (h *StatsHandler) Categories(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	stats, err := h.stats.CategoryStats(c.Request.Context(), &userID)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load category stats",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	if stats == nil {
		stats = []model.CategoryStat{}
	}

	var total int64
	for _, st := range stats {
		total += st.Count
	}
	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"categories": stats,
	})
}

// Performance handles GET /stats/performance.
func (h *StatsHandler) Performance(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	perf, err := h.stats.PerformanceStats(c.Request.Context(), &userID)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load performance stats",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, perf)
}

const maxTimelineDays = 365

// Timeline handles GET /stats/timeline?days=7: emails received per day.
func (h *StatsHandler) Timeline(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 || days > maxTimelineDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}

	points, err := h.stats.Timeline(c.Request.Context(), &userID, days)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load email timeline",
			zap.Int64("user_id", userID),
			zap.Int("days", days),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	if points == nil {
		points = []model.TimelinePoint{}
	}
	c.JSON(http.StatusOK, gin.H{
		"days":     days,
		"timeline": points,
	})
}

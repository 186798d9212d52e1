package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/mq"
	"emailagent/pkg/outbox"
	"emailagent/pkg/rbac"
	"emailagent/pkg/trace"
)

const testSecret = "test-secret"

type MockPreviewer struct{ mock.Mock }

func (m *MockPreviewer) Preview(ctx context.Context, userID int64, s model.EmailSummary) (*model.Decision, error) {
	args := m.Called(ctx, userID, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Decision), args.Error(1)
}

type MockRuleLister struct{ mock.Mock }

func (m *MockRuleLister) ListByUser(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.ClassificationRule), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	return m.Called(ctx, routingKey, payload).Error(0)
}

type MockStats struct{ mock.Mock }

func (m *MockStats) CategoryStats(ctx context.Context, userID *int64) ([]model.CategoryStat, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.CategoryStat), args.Error(1)
}

func (m *MockStats) PerformanceStats(ctx context.Context, userID *int64) (*model.PerformanceStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PerformanceStats), args.Error(1)
}

func (m *MockStats) Timeline(ctx context.Context, userID *int64, days int) ([]model.TimelinePoint, error) {
	args := m.Called(ctx, userID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TimelinePoint), args.Error(1)
}

type MockReplayer struct{ mock.Mock }

func (m *MockReplayer) ReplayEvent(ctx context.Context, eventID int64) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockReplayer) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type MockLogReader struct{ mock.Mock }

func (m *MockLogReader) ListByEmail(ctx context.Context, emailID int64, limit int) ([]model.ProcessingLog, error) {
	args := m.Called(ctx, emailID, limit)
	logs, _ := args.Get(0).([]model.ProcessingLog)
	return logs, args.Error(1)
}

type testServer struct {
	router    *Router
	previewer *MockPreviewer
	rules     *MockRuleLister
	publisher *MockPublisher
	stats     *MockStats
	replayer  *MockReplayer
	logs      *MockLogReader
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		previewer: new(MockPreviewer),
		rules:     new(MockRuleLister),
		publisher: new(MockPublisher),
		stats:     new(MockStats),
		replayer:  new(MockReplayer),
		logs:      new(MockLogReader),
	}
	logger := zap.NewNop()
	s.router = NewRouter(
		NewClassificationHandler(s.previewer, s.rules, s.publisher, logger),
		NewStatsHandler(s.stats, logger),
		NewAdminHandler(s.replayer, s.logs, logger),
		NewHealthHandler(HealthChecks{"db": func() error { return nil }}),
		testSecret,
		logger,
	)
	return s
}

func (s *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := GenerateJWT(7, role, testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer()

	t.Run("missing token", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/classification/categories", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateJWT(7, rbac.RoleUser, "other", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/classification/categories", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		s.router.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateJWT(7, rbac.RoleUser, testSecret, -time.Minute)
		require.NoError(t, err)
		_, err = ParseJWT(token, testSecret)
		assert.Error(t, err)
	})

	t.Run("user cannot replay outbox", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/admin/outbox/replay/1", rbac.RoleUser, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestClassificationHandler_Test(t *testing.T) {
	s := newTestServer()
	folder := "Newsletters"
	summary := model.EmailSummary{
		Sender:          "digest@newsletter.example.com",
		Subject:         "Weekly",
		HasAttachments:  true,
		AttachmentNames: []string{"issue.pdf"},
	}
	s.previewer.On("Preview", mock.Anything, int64(7), summary).Return(&model.Decision{
		UserID:       7,
		Verdict:      model.Verdict{Category: model.CategoryNewsletter, Confidence: 60, Reason: "rule"},
		ModelVerdict: model.Verdict{Category: model.CategoryPromotion, Confidence: 60, Reason: "deal"},
		Rule:         &model.RuleOverride{RuleID: 3, RuleName: "newsletters", Category: model.CategoryNewsletter, TargetFolder: &folder},
		Duration:     1500 * time.Millisecond,
	}, nil).Once()

	w := s.do(t, http.MethodPost, "/classification/test", rbac.RoleUser, gin.H{
		"sender":           summary.Sender,
		"subject":          summary.Subject,
		"attachment_names": summary.AttachmentNames,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName()))

	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.CategoryNewsletter, resp.Category)
	assert.Equal(t, model.CategoryPromotion, resp.ModelCategory)
	assert.Equal(t, int64(1500), resp.ProcessingTimeMs)
	require.NotNil(t, resp.Rule)
	assert.Equal(t, int64(3), resp.Rule.ID)
	assert.Equal(t, &folder, resp.Rule.TargetFolder)

	t.Run("empty summary", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/classification/test", rbac.RoleUser, gin.H{"has_attachments": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestClassificationHandler_ListRules(t *testing.T) {
	s := newTestServer()
	s.rules.On("ListByUser", mock.Anything, int64(7)).Return([]model.ClassificationRule{
		{ID: 2, Name: "low", Priority: 1, Conditions: map[string]any{"subject_contains": "x"}, TargetCategory: model.CategorySpam},
		{ID: 5, Name: "broken", Priority: 9, Conditions: map[string]any{}, TargetCategory: model.CategorySpam},
	}, nil)

	w := s.do(t, http.MethodGet, "/classification/rules", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rules []struct {
			ID            int64  `json:"id"`
			Valid         bool   `json:"valid"`
			InvalidReason string `json:"invalid_reason"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, int64(5), resp.Rules[0].ID)
	assert.False(t, resp.Rules[0].Valid)
	assert.NotEmpty(t, resp.Rules[0].InvalidReason)
	assert.True(t, resp.Rules[1].Valid)
}

func TestClassificationHandler_ListCategories(t *testing.T) {
	s := newTestServer()
	w := s.do(t, http.MethodGet, "/classification/categories", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Categories []struct {
			Value       string `json:"value"`
			Description string `json:"description"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Categories, len(model.AllCategories()))
}

func TestClassificationHandler_Reclassify(t *testing.T) {
	t.Run("queues request", func(t *testing.T) {
		s := newTestServer()
		s.publisher.On("PublishWithContext", mock.Anything, mq.RoutingReclassifyRequested,
			mock.MatchedBy(func(p mqcontracts.ReclassifyRequestedPayload) bool {
				return p.UserID == 7 && p.Category != nil && *p.Category == "spam" && p.RequestID != ""
			})).Return(nil).Once()

		w := s.do(t, http.MethodPost, "/classification/reclassify", rbac.RoleUser, gin.H{"category": "Spam"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		s.publisher.AssertExpectations(t)
	})

	t.Run("unknown category", func(t *testing.T) {
		s := newTestServer()
		w := s.do(t, http.MethodPost, "/classification/reclassify", rbac.RoleUser, gin.H{"category": "bills"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("broker down", func(t *testing.T) {
		s := newTestServer()
		s.publisher.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed"))
		w := s.do(t, http.MethodPost, "/classification/reclassify", rbac.RoleUser, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStatsHandler_Categories(t *testing.T) {
	s := newTestServer()
	userID := int64(7)
	s.stats.On("CategoryStats", mock.Anything, &userID).Return([]model.CategoryStat{
		{Category: model.CategoryInvoice, Count: 3},
		{Category: model.CategorySpam, Count: 2},
	}, nil)

	w := s.do(t, http.MethodGet, "/stats/categories", rbac.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Total)
}

func TestStatsHandler_Performance(t *testing.T) {
	t.Run("returns the aggregate", func(t *testing.T) {
		s := newTestServer()
		userID := int64(7)
		s.stats.On("PerformanceStats", mock.Anything, &userID).Return(&model.PerformanceStats{
			AvgProcessingTimeMs:      1534.25,
			AvgProcessingTimeSeconds: 1.53,
			ErrorCount:               4,
			AvgConfidence:            81.5,
		}, nil)

		w := s.do(t, http.MethodGet, "/stats/performance", rbac.RoleUser, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1534.25, resp["avg_processing_time_ms"])
		assert.Equal(t, 1.53, resp["avg_processing_time_seconds"])
		assert.Equal(t, float64(4), resp["error_count"])
		assert.Equal(t, 81.5, resp["avg_classification_confidence"])
	})

	t.Run("store failure", func(t *testing.T) {
		s := newTestServer()
		s.stats.On("PerformanceStats", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		w := s.do(t, http.MethodGet, "/stats/performance", rbac.RoleUser, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestStatsHandler_Timeline(t *testing.T) {
	t.Run("defaults to seven days", func(t *testing.T) {
		s := newTestServer()
		userID := int64(7)
		s.stats.On("Timeline", mock.Anything, &userID, 7).Return([]model.TimelinePoint{
			{Date: "2026-10-17", Count: 3},
			{Date: "2026-10-18", Count: 5},
		}, nil)

		w := s.do(t, http.MethodGet, "/stats/timeline", rbac.RoleUser, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Days     int                   `json:"days"`
			Timeline []model.TimelinePoint `json:"timeline"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Days)
		assert.Equal(t, []model.TimelinePoint{{Date: "2026-10-17", Count: 3}, {Date: "2026-10-18", Count: 5}}, resp.Timeline)
	})

	t.Run("explicit days and empty result", func(t *testing.T) {
		s := newTestServer()
		s.stats.On("Timeline", mock.Anything, mock.Anything, 30).Return(nil, nil)

		w := s.do(t, http.MethodGet, "/stats/timeline?days=30", rbac.RoleUser, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"days":30,"timeline":[]}`, w.Body.String())
	})

	t.Run("days out of range", func(t *testing.T) {
		s := newTestServer()
		for _, q := range []string{"0", "366", "abc"} {
			w := s.do(t, http.MethodGet, "/stats/timeline?days="+q, rbac.RoleUser, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
		s.stats.AssertNotCalled(t, "Timeline", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		s := newTestServer()
		s.stats.On("Timeline", mock.Anything, mock.Anything, 7).Return(nil, errors.New("db down"))

		w := s.do(t, http.MethodGet, "/stats/timeline", rbac.RoleUser, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAdminHandler_Replay(t *testing.T) {
	s := newTestServer()
	s.replayer.On("ReplayEvent", mock.Anything, int64(11)).Return(nil)
	s.replayer.On("ReplayEvent", mock.Anything, int64(12)).Return(outbox.ErrEventNotFound)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/admin/outbox/replay/11", rbac.RoleAdmin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/admin/outbox/replay/12", rbac.RoleAdmin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/admin/outbox/replay/abc", rbac.RoleAdmin, nil).Code)
}

func TestAdminHandler_EmailLogs(t *testing.T) {
	s := newTestServer()
	emailID := int64(21)
	s.logs.On("ListByEmail", mock.Anything, emailID, 50).Return([]model.ProcessingLog{
		{ID: 2, EmailID: &emailID, Level: "info", Message: "email classified", Component: "classifier"},
		{ID: 1, EmailID: &emailID, Level: "error", Message: "classification failed", Component: "classifier"},
	}, nil)
	s.logs.On("ListByEmail", mock.Anything, int64(22), 10).Return(nil, errors.New("db down"))

	w := s.do(t, http.MethodGet, "/admin/emails/21/logs", rbac.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		EmailID int64                 `json:"email_id"`
		Logs    []model.ProcessingLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, emailID, resp.EmailID)
	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "email classified", resp.Logs[0].Message)

	assert.Equal(t, http.StatusInternalServerError, s.do(t, http.MethodGet, "/admin/emails/22/logs?limit=10", rbac.RoleAdmin, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/emails/21/logs", rbac.RoleUser, nil).Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer()
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

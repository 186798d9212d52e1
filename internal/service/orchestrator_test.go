package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"emailagent/internal/classifier"
	"emailagent/internal/model"
	"emailagent/internal/rules"
)

// memStore 内存实现，模拟 Claim 的状态迁移
type memStore struct {
	mu         sync.Mutex
	emails     map[int64]*memEmail
	rules      []model.ClassificationRule
	saveErr    error
	saved      []*model.Decision
	matchCount map[int64]int64
}

type memEmail struct {
	userID  int64
	status  model.Status
	token   string
	started time.Time
	summary model.EmailSummary
	reason  string
}

func newMemStore() *memStore {
	return &memStore{emails: map[int64]*memEmail{}, matchCount: map[int64]int64{}}
}

func (s *memStore) add(id, userID int64, summary model.EmailSummary) {
	s.emails[id] = &memEmail{userID: userID, status: model.StatusPending, summary: summary}
}

func (s *memStore) Claim(_ context.Context, emailID int64, token string, staleAfter time.Duration) (*model.ClaimedEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[emailID]
	if !ok {
		return nil, model.ErrEmailNotFound
	}
	claimable := e.status == model.StatusPending ||
		(e.status == model.StatusProcessing && (e.token == token || time.Since(e.started) > staleAfter))
	if !claimable {
		return nil, model.ErrNotClaimable
	}
	e.status = model.StatusProcessing
	e.token = token
	e.started = time.Now()
	return &model.ClaimedEmail{ID: emailID, UserID: e.userID, Summary: e.summary}, nil
}

func (s *memStore) ActiveRules(_ context.Context, _ int64) ([]model.ClassificationRule, error) {
	return s.rules, nil
}

func (s *memStore) SaveDecision(_ context.Context, d *model.Decision, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.emails[d.EmailID].status = model.StatusClassified
	s.saved = append(s.saved, d)
	if d.Rule != nil {
		s.matchCount[d.Rule.RuleID]++
	}
	return nil
}

func (s *memStore) MarkError(_ context.Context, emailID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 与 SQL 的 WHERE status = 'processing' 一致，其它状态不变
	e := s.emails[emailID]
	if e == nil || e.status != model.StatusProcessing {
		return nil
	}
	e.status = model.StatusError
	e.reason = reason
	return nil
}

func (s *memStore) status(id int64) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emails[id].status
}

// stubGateway 返回固定文本或错误
type stubGateway struct {
	text  string
	err   error
	calls int
	block bool
}

func (g *stubGateway) Generate(ctx context.Context, _ string) (string, error) {
	g.calls++
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func newTestOrchestrator(store *memStore, gw classifier.Gateway) *Orchestrator {
	logger := zap.NewNop()
	return NewOrchestrator(store, classifier.New(gw, logger), rules.NewEngine(logger), time.Minute, logger)
}

func invoiceSummary() model.EmailSummary {
	return model.EmailSummary{
		Sender:          "billing@acme.com",
		Subject:         "Facture Mars 2024",
		BodyPreview:     "Veuillez trouver le montant TTC ci-joint",
		HasAttachments:  true,
		AttachmentNames: []string{"facture.pdf"},
	}
}

func TestClassifyEmail_Scenarios(t *testing.T) {
	t.Run("well formed model response", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		gw := &stubGateway{text: `Sure! {"category":"invoice","confidence":92,"reason":"mentions invoice and PDF attachment"}`}

		d, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)

		assert.Equal(t, model.Verdict{Category: model.CategoryInvoice, Confidence: 92, Reason: "mentions invoice and PDF attachment"}, d.Verdict)
		assert.Equal(t, "model", d.Source())
		assert.Equal(t, model.StatusClassified, store.status(1))
		assert.Equal(t, int64(7), d.UserID)
	})

	t.Run("prose without braces", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		gw := &stubGateway{text: "I think this is probably an invoice."}

		d, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)

		assert.Equal(t, model.CategoryUnknown, d.Verdict.Category)
		assert.Equal(t, 0, d.Verdict.Confidence)
		assert.Contains(t, d.Verdict.Reason, "no structured content found")
		assert.True(t, d.Fallback)
		assert.Equal(t, model.StatusClassified, store.status(1))
	})

	t.Run("model timeout", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		gw := &stubGateway{err: &classifier.GatewayError{Kind: classifier.KindTimeout, Err: context.DeadlineExceeded}}

		d, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)

		assert.Equal(t, model.CategoryUnknown, d.Verdict.Category)
		assert.Equal(t, 0, d.Verdict.Confidence)
		assert.Contains(t, d.Verdict.Reason, "timeout")
		assert.Equal(t, "fallback", d.Source())
		assert.Equal(t, model.StatusClassified, store.status(1))
	})

	t.Run("rule overrides model category", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, model.EmailSummary{Sender: "digest@newsletter.example.com", Subject: "Weekly deals"})
		folder := "Newsletters"
		store.rules = []model.ClassificationRule{{
			ID:             3,
			Name:           "newsletters",
			Priority:       10,
			IsActive:       true,
			Conditions:     map[string]any{"sender_contains": "@newsletter."},
			TargetCategory: model.CategoryNewsletter,
			TargetFolder:   &folder,
		}}
		gw := &stubGateway{text: `{"category":"promotion","confidence":60,"reason":"discount offer"}`}
		orch := newTestOrchestrator(store, gw)

		d, err := orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)

		assert.Equal(t, model.CategoryNewsletter, d.Verdict.Category)
		assert.Equal(t, model.CategoryPromotion, d.ModelVerdict.Category)
		assert.Equal(t, 60, d.ModelVerdict.Confidence)
		require.NotNil(t, d.Rule)
		assert.Equal(t, int64(3), d.Rule.RuleID)
		assert.Equal(t, &folder, d.TargetFolder())
		assert.Equal(t, int64(1), store.matchCount[3])
		assert.Equal(t, int64(1), orch.engine.Stats().Get(3))
	})
}

func TestClassifyEmail_Claim(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		store := newMemStore()
		gw := &stubGateway{}

		_, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 42, "req-1")
		assert.ErrorIs(t, err, model.ErrEmailNotFound)
		assert.Zero(t, gw.calls)
	})

	t.Run("already classified", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		store.emails[1].status = model.StatusClassified
		gw := &stubGateway{}

		_, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 1, "req-1")
		assert.ErrorIs(t, err, model.ErrNotClaimable)
		assert.Zero(t, gw.calls)
	})

	t.Run("in flight under another token", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		store.emails[1].status = model.StatusProcessing
		store.emails[1].token = "req-other"
		store.emails[1].started = time.Now()

		_, err := newTestOrchestrator(store, &stubGateway{}).ClassifyEmail(context.Background(), 1, "req-1")
		assert.ErrorIs(t, err, model.ErrNotClaimable)
	})

	t.Run("stuck in processing is re-attempted", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, invoiceSummary())
		store.emails[1].status = model.StatusProcessing
		store.emails[1].token = "req-crashed"
		store.emails[1].started = time.Now().Add(-time.Hour)
		gw := &stubGateway{text: `{"category":"invoice","confidence":80,"reason":"r"}`}

		d, err := newTestOrchestrator(store, gw).ClassifyEmail(context.Background(), 1, "req-sweeper")
		require.NoError(t, err)
		assert.Equal(t, model.StatusClassified, store.status(1))
		assert.Len(t, store.saved, 1)

		// same response on a never-claimed email gives the same verdict
		fresh := newMemStore()
		fresh.add(1, 7, invoiceSummary())
		want, err := newTestOrchestrator(fresh, &stubGateway{text: gw.text}).ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)
		assert.Equal(t, want.Verdict, d.Verdict)
		assert.Equal(t, model.Verdict{Category: model.CategoryInvoice, Confidence: 80, Reason: "r"}, d.Verdict)
		assert.Equal(t, want.Source(), d.Source())
	})
}

func TestClassifyEmail_Cancelled(t *testing.T) {
	store := newMemStore()
	store.add(1, 7, invoiceSummary())
	gw := &stubGateway{block: true}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d, err := newTestOrchestrator(store, gw).ClassifyEmail(ctx, 1, "req-1")
	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StatusProcessing, store.status(1))
	assert.Empty(t, store.saved)
}

func TestClassifyEmail_PersistFailure(t *testing.T) {
	store := newMemStore()
	store.add(1, 7, invoiceSummary())
	store.saveErr = errors.New("connection reset")
	gw := &stubGateway{text: `{"category":"invoice","confidence":80,"reason":"r"}`}
	orch := newTestOrchestrator(store, gw)

	t.Run("redelivery re-enters the attempt", func(t *testing.T) {
		_, err := orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPersist)
		assert.Equal(t, model.StatusProcessing, store.status(1))

		store.saveErr = nil
		d, err := orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)
		assert.Equal(t, model.CategoryInvoice, d.Verdict.Category)
		assert.Equal(t, model.StatusClassified, store.status(1))
		assert.Equal(t, 2, gw.calls)
	})

	t.Run("mark error applies while processing", func(t *testing.T) {
		store := newMemStore()
		store.add(2, 7, invoiceSummary())
		store.saveErr = errors.New("connection reset")
		orch := newTestOrchestrator(store, &stubGateway{text: gw.text})

		_, err := orch.ClassifyEmail(context.Background(), 2, "req-2")
		require.ErrorIs(t, err, ErrPersist)
		require.Equal(t, model.StatusProcessing, store.status(2))

		require.NoError(t, orch.MarkError(context.Background(), 2, "gave up"))
		assert.Equal(t, model.StatusError, store.status(2))
		assert.Equal(t, "gave up", store.emails[2].reason)
	})

	t.Run("mark error leaves a classified email alone", func(t *testing.T) {
		// 邮件 1 已在上一个子测试中完成分类
		require.NoError(t, orch.MarkError(context.Background(), 1, "late failure"))
		assert.Equal(t, model.StatusClassified, store.status(1))
		assert.Empty(t, store.emails[1].reason)
	})
}

func TestClassifyEmail_RuleHitCounting(t *testing.T) {
	newsletterRule := []model.ClassificationRule{{
		ID:             3,
		Name:           "newsletters",
		Priority:       10,
		IsActive:       true,
		Conditions:     map[string]any{"sender_contains": "@newsletter."},
		TargetCategory: model.CategoryNewsletter,
	}}
	summary := model.EmailSummary{Sender: "digest@newsletter.example.com", Subject: "Weekly deals"}
	text := `{"category":"promotion","confidence":60,"reason":"discount offer"}`

	t.Run("failed write is not counted", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, summary)
		store.rules = newsletterRule
		store.saveErr = errors.New("connection reset")
		orch := newTestOrchestrator(store, &stubGateway{text: text})

		_, err := orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.ErrorIs(t, err, ErrPersist)
		assert.Zero(t, orch.engine.Stats().Get(3))

		store.saveErr = nil
		_, err = orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), orch.engine.Stats().Get(3))
		assert.Equal(t, int64(1), store.matchCount[3])
	})

	t.Run("claim lost before the write is not counted", func(t *testing.T) {
		store := newMemStore()
		store.add(1, 7, summary)
		store.rules = newsletterRule
		store.saveErr = model.ErrNotClaimable
		orch := newTestOrchestrator(store, &stubGateway{text: text})

		_, err := orch.ClassifyEmail(context.Background(), 1, "req-1")
		require.Error(t, err)
		assert.Zero(t, orch.engine.Stats().Get(3))
		assert.Empty(t, store.matchCount)
	})
}

func TestPreview(t *testing.T) {
	store := newMemStore()
	store.rules = []model.ClassificationRule{{
		ID:             9,
		Name:           "acme invoices",
		Priority:       1,
		IsActive:       true,
		Conditions:     map[string]any{"sender_domain": "acme.com", "has_attachments": true},
		TargetCategory: model.CategoryInvoice,
	}}
	gw := &stubGateway{text: `{"category":"professional","confidence":40,"reason":"looks like work"}`}
	orch := newTestOrchestrator(store, gw)

	d, err := orch.Preview(context.Background(), 7, invoiceSummary())
	require.NoError(t, err)

	assert.Equal(t, model.CategoryInvoice, d.Verdict.Category)
	assert.Equal(t, model.CategoryProfessional, d.ModelVerdict.Category)
	require.NotNil(t, d.Rule)
	assert.Equal(t, int64(0), orch.engine.Stats().Get(9))
	assert.Empty(t, store.saved)
	assert.Empty(t, store.matchCount)
}

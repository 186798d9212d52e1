package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"emailagent/internal/classifier"
	"emailagent/internal/model"
	"emailagent/internal/rules"
	"emailagent/pkg/logger"
	"emailagent/pkg/metrics"
	"emailagent/pkg/trace"
)

// ErrPersist wraps failures to store a computed decision. The email stays in
// processing and the caller is expected to retry.
var ErrPersist = errors.New("failed to persist classification")

// Store is the persistence the orchestrator needs.
type Store interface {
	// Claim moves an email from pending (or from a stale or same-token
	// processing state) to processing and returns its summary.
	Claim(ctx context.Context, emailID int64, token string, staleAfter time.Duration) (*model.ClaimedEmail, error)
	ActiveRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error)
	// SaveDecision writes the verdict, sets status classified, counts the
	// matched rule and queues the email.classified event in one transaction.
	SaveDecision(ctx context.Context, d *model.Decision, traceID string) error
	MarkError(ctx context.Context, emailID int64, reason string) error
}

// Classifier produces a verdict for one summary.
type Classifier interface {
	Classify(ctx context.Context, s model.EmailSummary) (classifier.Outcome, error)
}

type Orchestrator struct {
	store      Store
	classifier Classifier
	engine     *rules.Engine
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewOrchestrator(store Store, cls Classifier, engine *rules.Engine, staleAfter time.Duration, logger *zap.Logger) *Orchestrator {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Orchestrator{
		store:      store,
		classifier: cls,
		engine:     engine,
		logger:     logger,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// ClassifyEmail runs one attempt for emailID: pending -> processing ->
// classified. token identifies the attempt; a retry with the same token may
// re-enter an email it left in processing.
//
// A model failure still ends in classified with a fallback verdict. On
// cancellation nothing is written and the email stays in processing.
func (o *Orchestrator) ClassifyEmail(ctx context.Context, emailID int64, token string) (*model.Decision, error) {
	log := logger.WithTrace(ctx, o.logger).With(zap.Int64("email_id", emailID))
	start := o.now()

	claimed, err := o.store.Claim(ctx, emailID, token, o.staleAfter)
	if err != nil {
		return nil, err
	}

	// rules are read before the model call; no row is locked while it runs
	ruleSet, err := o.store.ActiveRules(ctx, claimed.UserID)
	if err != nil {
		return nil, fmt.Errorf("load rules for user %d: %w", claimed.UserID, err)
	}

	d, err := o.decide(ctx, claimed.UserID, claimed.Summary, ruleSet)
	if err != nil {
		log.Warn("Classification interrupted, email left in processing", zap.Error(err))
		return nil, err
	}
	d.EmailID = emailID
	d.Duration = o.now().Sub(start)

	if err := o.store.SaveDecision(ctx, d, trace.FromContext(ctx)); err != nil {
		metrics.IncrementEmailProcessed("persist_failed")
		return nil, fmt.Errorf("%w: email %d: %w", ErrPersist, emailID, err)
	}

	// a rule hit counts only once its decision is stored
	if d.Rule != nil {
		o.engine.Record(d.Rule.RuleID)
	}
	metrics.IncrementEmailProcessed("success")
	metrics.RecordClassification(string(d.Verdict.Category), d.Source(), d.Verdict.Confidence)

	fields := []zap.Field{
		zap.String("category", string(d.Verdict.Category)),
		zap.Int("confidence", d.Verdict.Confidence),
		zap.String("source", d.Source()),
		zap.Duration("took", d.Duration),
	}
	if d.Rule != nil {
		fields = append(fields, zap.Int64("rule_id", d.Rule.RuleID))
	}
	log.Info("Email classified", fields...)

	return d, nil
}

// Preview classifies a summary without touching stored data: no status
// change, no rule counters. It returns the decision and its timing.
func (o *Orchestrator) Preview(ctx context.Context, userID int64, s model.EmailSummary) (*model.Decision, error) {
	start := o.now()

	ruleSet, err := o.store.ActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rules for user %d: %w", userID, err)
	}

	d, err := o.decide(ctx, userID, s, ruleSet)
	if err != nil {
		return nil, err
	}
	d.Duration = o.now().Sub(start)
	return d, nil
}

// MarkError is the processing -> error transition for attempts whose decision
// could not be stored.
func (o *Orchestrator) MarkError(ctx context.Context, emailID int64, reason string) error {
	metrics.IncrementEmailProcessed("error")
	return o.store.MarkError(ctx, emailID, reason)
}

func (o *Orchestrator) decide(ctx context.Context, userID int64, s model.EmailSummary, ruleSet []model.ClassificationRule) (*model.Decision, error) {
	outcome, err := o.classifier.Classify(ctx, s)
	if err != nil {
		return nil, err
	}

	d := &model.Decision{
		UserID:       userID,
		Verdict:      outcome.Verdict,
		ModelVerdict: outcome.Verdict,
		Fallback:     outcome.Fallback,
	}

	if override := o.engine.Evaluate(ctx, s, ruleSet); override != nil {
		d.Rule = override
		d.Verdict.Category = override.Category
		d.Verdict.Reason = fmt.Sprintf("rule %q matched (model: %s, %d%%): %s",
			override.RuleName, outcome.Verdict.Category, outcome.Verdict.Confidence, outcome.Verdict.Reason)
	}

	return d, nil
}

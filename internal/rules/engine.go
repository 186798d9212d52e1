package rules

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"emailagent/internal/model"
	"emailagent/pkg/logger"
	"emailagent/pkg/metrics"
)

// Engine picks at most one override rule for an email.
type Engine struct {
	logger *zap.Logger
	stats  *Stats
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger, stats: NewStats()}
}

// Stats returns the in-process match counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Evaluate returns the first active, valid rule, in priority order, whose
// conditions all hold for s, or nil. Higher priority wins; equal priorities
// go to the lower ID. Evaluate has no side effects besides logging.
func (e *Engine) Evaluate(ctx context.Context, s model.EmailSummary, rules []model.ClassificationRule) *model.RuleOverride {
	if len(rules) == 0 {
		return nil
	}

	ordered := make([]model.ClassificationRule, len(rules))
	copy(ordered, rules)
	Sort(ordered)

	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		compiled, err := Compile(rule)
		if err != nil {
			logger.WithTrace(ctx, e.logger).Warn("Skipping invalid rule",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.Error(err),
			)
			continue
		}
		if compiled.Matches(&s) {
			return &model.RuleOverride{
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				Category:     rule.TargetCategory,
				TargetFolder: rule.TargetFolder,
				AutoDelete:   rule.AutoDelete,
			}
		}
	}
	return nil
}

// Match is Evaluate plus Record on the matched rule.
func (e *Engine) Match(ctx context.Context, s model.EmailSummary, rules []model.ClassificationRule) *model.RuleOverride {
	m := e.Evaluate(ctx, s, rules)
	if m != nil {
		e.Record(m.RuleID)
	}
	return m
}

// Record counts one applied hit for ruleID. Callers that persist the
// decision call it only once the write has landed.
func (e *Engine) Record(ruleID int64) {
	e.stats.Increment(ruleID)
	metrics.IncrementRuleMatch(ruleID)
}

// Sort orders rules by priority descending, then ID ascending.
func Sort(rules []model.ClassificationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Stats counts rule matches; safe for concurrent use.
type Stats struct {
	counters sync.Map // int64 -> *atomic.Int64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Increment(ruleID int64) int64 {
	v, _ := s.counters.LoadOrStore(ruleID, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1)
}

func (s *Stats) Get(ruleID int64) int64 {
	v, ok := s.counters.Load(ruleID)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

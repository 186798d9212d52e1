package api

import (
	"context"

	"emailagent/internal/model"
)

type Previewer interface {
	Preview(ctx context.Context, userID int64, s model.EmailSummary) (*model.Decision, error)
}

type RuleLister interface {
	ListByUser(ctx context.Context, userID int64) ([]model.ClassificationRule, error)
}

type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type StatsReader interface {
	CategoryStats(ctx context.Context, userID *int64) ([]model.CategoryStat, error)
	PerformanceStats(ctx context.Context, userID *int64) (*model.PerformanceStats, error)
	Timeline(ctx context.Context, userID *int64, days int) ([]model.TimelinePoint, error)
}

type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type LogReader interface {
	ListByEmail(ctx context.Context, emailID int64, limit int) ([]model.ProcessingLog, error)
}

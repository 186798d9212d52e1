package outbox

import (
	"context"
	"fmt"
)

// ReplayService 手动重放失败的 outbox 事件
type ReplayService struct {
	repo      *Repository
	publisher Publisher
}

func NewReplayService(repo *Repository, publisher Publisher) *ReplayService {
	return &ReplayService{
		repo:      repo,
		publisher: publisher,
	}
}

// ReplayEvent 立即重新发布指定事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	ctx = contextWithPayloadTrace(ctx, event.Payload)
	if err := s.publisher.PublishWithContext(ctx, event.RoutingKey, event.Payload); err != nil {
		// 发布失败，放回 pending 让 Dispatcher 继续重试
		if resetErr := s.repo.ResetForReplay(ctx, eventID); resetErr != nil {
			return fmt.Errorf("failed to publish: %w (reset error: %v)", err, resetErr)
		}
		return fmt.Errorf("failed to publish: %w", err)
	}

	return s.repo.MarkAsSent(ctx, eventID)
}

// ReplayFailedEvents 重放所有失败的事件，返回成功数
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			continue
		}
		replayed++
	}
	return replayed, nil
}

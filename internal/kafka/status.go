package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

// StatusPublisher emits status-update events onto the status topic on
// behalf of one platform connector. The router-worker consumes these to
// advance stored messages through DELIVERED and READ.
type StatusPublisher struct {
	producer *Producer
	topic    string
	platform string
}

func NewStatusPublisher(producer *Producer, topic, platform string) *StatusPublisher {
	return &StatusPublisher{producer: producer, topic: topic, platform: platform}
}

func (s *StatusPublisher) PublishDelivered(ctx context.Context, ev domain.MessageEvent) error {
	return s.publish(ctx, ev, domain.StatusDelivered)
}

func (s *StatusPublisher) PublishRead(ctx context.Context, ev domain.MessageEvent) error {
	return s.publish(ctx, ev, domain.StatusRead)
}

func (s *StatusPublisher) publish(ctx context.Context, ev domain.MessageEvent, status domain.Status) error {
	update := domain.StatusEvent{
		MessageID:      ev.MessageID,
		ConversationID: ev.ConversationID,
		Timestamp:      ev.Timestamp,
		Status:         status,
		EventType:      domain.EventTypeStatusUpdate,
		Platform:       s.platform,
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.producer.Publish(ctx, s.topic, ev.ConversationID, payload)
}

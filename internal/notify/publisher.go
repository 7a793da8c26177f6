// Package notify fans out new-message notifications to the WebSocket
// gateway over Redis pub/sub, one channel per recipient.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewMessageNotification is the payload pushed to a recipient's channel.
type NewMessageNotification struct {
	Type           string `json:"type"`
	RecipientID    string `json:"recipient_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	SenderUsername string `json:"sender_username,omitempty"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	FileID         string `json:"file_id,omitempty"`
	GroupName      string `json:"group_name,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Publisher delivers notifications fire-and-forget; the processor never
// observes a delivery outcome beyond the publish call itself.
type Publisher interface {
	PublishNewMessage(ctx context.Context, n NewMessageNotification) error
}

type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func channelFor(recipientID string) string {
	return "notifications:user:" + recipientID
}

func (p *RedisPublisher) PublishNewMessage(ctx context.Context, n NewMessageNotification) error {
	n.Type = "new_message"
	if n.Timestamp == 0 {
		n.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channelFor(n.RecipientID), payload).Err(); err != nil {
		return err
	}
	p.log.Debug("notification published",
		zap.String("recipient_id", n.RecipientID),
		zap.String("message_id", n.MessageID),
	)
	return nil
}

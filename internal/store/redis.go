package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

const (
	messageIDsKey = "message:ids"

	fieldMessageID   = "message_id"
	fieldSenderID    = "sender_id"
	fieldContent     = "content"
	fieldStatus      = "status"
	fieldFileID      = "file_id"
	fieldFileMeta    = "file_metadata"
	fieldDeliveredAt = "delivered_at"
	fieldReadAt      = "read_at"
)

// RedisStore persists messages in Redis. One hash per message keyed by
// (conversation id, timestamp), a set of all message ids for dedup, and a
// per-conversation sorted set scored by timestamp for history reads.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func messageKey(conversationID string, sentAt time.Time) string {
	return fmt.Sprintf("message:%s:%d", conversationID, sentAt.UnixMilli())
}

func conversationKey(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

func groupMembersKey(groupID string) string {
	return "group:" + groupID + ":members"
}

func groupNameKey(groupID string) string {
	return "group:" + groupID + ":name"
}

func usernameKey(userID string) string {
	return "user:" + userID + ":username"
}

func (s *RedisStore) MessageExists(ctx context.Context, messageID string) (bool, error) {
	exists, err := s.client.SIsMember(ctx, messageIDsKey, messageID).Result()
	if err != nil {
		return false, fmt.Errorf("check message existence: %w", err)
	}
	return exists, nil
}

// saveMessageScript claims the message id and writes the row in one
// atomic step, so a crash can never leave the id claimed without a
// stored row. Returns 0 when the id was already claimed.
var saveMessageScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
redis.call("HSET", KEYS[3], unpack(ARGV, 3))
return 1
`)

// SaveMessage writes the message, claiming its id in the same script so
// the claim and the row are atomic. A zero reply means another writer
// already claimed the id, which turns the save into a no-op rather than
// an error.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	argv := []interface{}{
		msg.MessageID,
		msg.SentAt.UnixMilli(),
		fieldMessageID, msg.MessageID,
		fieldSenderID, msg.SenderID,
		fieldContent, msg.Content,
		fieldStatus, string(msg.Status),
	}
	if msg.FileID != "" {
		argv = append(argv, fieldFileID, msg.FileID)
	}
	if len(msg.FileMetadata) > 0 {
		meta, err := json.Marshal(msg.FileMetadata)
		if err != nil {
			return fmt.Errorf("%w: marshal file metadata: %v", ErrSaveFailed, err)
		}
		argv = append(argv, fieldFileMeta, string(meta))
	}

	keys := []string{
		messageIDsKey,
		conversationKey(msg.ConversationID),
		messageKey(msg.ConversationID, msg.SentAt),
	}
	added, err := saveMessageScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	if added == 0 {
		s.log.Debug("message id already claimed, skipping write",
			zap.String("message_id", msg.MessageID))
	}
	return nil
}

// UpdateMessageStatus applies a lifecycle step. The lifecycle only moves
// forward, so a late or redelivered DELIVERED arriving after READ is
// skipped rather than applied. Updates for one message arrive serialized
// (the status topic is keyed by conversation id), so read-check-write
// here is not racing another writer.
func (s *RedisStore) UpdateMessageStatus(ctx context.Context, messageID, conversationID string, sentAt time.Time, status domain.Status) error {
	key := messageKey(conversationID, sentAt)
	cur, err := s.client.HGet(ctx, key, fieldStatus).Result()
	if err == redis.Nil {
		s.log.Warn("status update for unknown message, skipping",
			zap.String("message_id", messageID),
			zap.String("status", string(status)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}
	if !domain.Status(cur).CanTransitionTo(status) {
		s.log.Debug("ignoring out-of-order status update",
			zap.String("message_id", messageID),
			zap.String("current", cur),
			zap.String("status", string(status)),
		)
		return nil
	}

	fields := map[string]interface{}{fieldStatus: string(status)}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch status {
	case domain.StatusDelivered:
		fields[fieldDeliveredAt] = now
	case domain.StatusRead:
		fields[fieldReadAt] = now
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}
	return nil
}

func (s *RedisStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, groupMembersKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get group members: %w", err)
	}
	return members, nil
}

func (s *RedisStore) GetGroupName(ctx context.Context, groupID string) (string, error) {
	name, err := s.client.Get(ctx, groupNameKey(groupID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get group name: %w", err)
	}
	return name, nil
}

func (s *RedisStore) GetUsername(ctx context.Context, userID string) (string, error) {
	name, err := s.client.Get(ctx, usernameKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get username: %w", err)
	}
	return name, nil
}

// Ping is used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

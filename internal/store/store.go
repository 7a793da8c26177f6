// Package store defines the message persistence contract and its Redis
// implementation. The processor only ever sees the MessageStore interface;
// the engine behind it guarantees that writes for a given message id are
// at-most-once-effective even under concurrent redelivery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

var (
	// ErrSaveFailed is fatal for the event being processed: the consumer
	// must withhold the offset commit so the event is redelivered.
	ErrSaveFailed = errors.New("failed to save message")

	ErrUpdateFailed = errors.New("failed to update message status")
)

type MessageStore interface {
	MessageExists(ctx context.Context, messageID string) (bool, error)
	SaveMessage(ctx context.Context, msg *domain.Message) error
	UpdateMessageStatus(ctx context.Context, messageID, conversationID string, sentAt time.Time, status domain.Status) error
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
	GetGroupName(ctx context.Context, groupID string) (string, error)
	GetUsername(ctx context.Context, userID string) (string, error)
}

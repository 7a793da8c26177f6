// Package connector holds the polymorphic delivery capability over
// external messaging platforms and the shared resilience template every
// concrete connector composes around its delivery call.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

// Webhook event types a platform may push back at us.
const (
	WebhookMessageDelivered = "MESSAGE_DELIVERED"
	WebhookMessageRead      = "MESSAGE_READ"
	WebhookMessageFailed    = "MESSAGE_FAILED"
)

// WebhookEvent is an inbound callback from an external platform carrying
// a delivery or read receipt.
type WebhookEvent struct {
	Type           string            `json:"type"`
	Platform       string            `json:"platform"`
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	Timestamp      int64             `json:"timestamp"`
	Data           map[string]string `json:"data,omitempty"`
}

// PlatformConnector is the capability set a concrete platform adapter
// provides. Callers obtain instances from the Registry by id and never
// hold long-lived references.
type PlatformConnector interface {
	ID() string
	Name() string
	SendText(ctx context.Context, conversationID, content string) error
	SendFile(ctx context.Context, conversationID, fileID string, fileMetadata map[string]string) error
	SendMessage(ctx context.Context, ev domain.MessageEvent) error
	OnWebhookEvent(ctx context.Context, ev WebhookEvent) error
	IsHealthy() bool
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Category classifies a connector-layer failure.
type Category string

const (
	CategorySendError     Category = "SEND_ERROR"
	CategoryCircuitOpen   Category = "CIRCUIT_OPEN"
	CategoryNotFound      Category = "NOT_FOUND"
	CategoryCreationError Category = "CREATION_ERROR"
)

// Error is a connector-layer failure tagged with the connector id and a
// failure category. The consume loop catches these, records a breaker
// failure and moves on.
type Error struct {
	ConnectorID string
	Category    Category
	Message     string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connector %s [%s]: %s: %v", e.ConnectorID, e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("connector %s [%s]: %s", e.ConnectorID, e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(connectorID string, category Category, message string, cause error) *Error {
	return &Error{ConnectorID: connectorID, Category: category, Message: message, Cause: cause}
}

// IsCircuitOpen reports whether err is a connector error caused by an
// open circuit. Callers treat that as an expected skip, not a fault.
func IsCircuitOpen(err error) bool {
	var cerr *Error
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.Category == CategoryCircuitOpen
}

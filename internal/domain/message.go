package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the delivery lifecycle of a stored message.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step. The lifecycle only moves forward: SENT -> DELIVERED -> READ.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusSent:
		return next == StatusDelivered || next == StatusRead
	case StatusDelivered:
		return next == StatusRead
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

const (
	EventTypeMessageSent  = "message_sent"
	EventTypeStatusUpdate = "status_update"
)

// MessageEvent is the unit of work read from Kafka. Produced once by the
// api-service and immutable thereafter; Timestamp is producer-assigned
// epoch millis.
type MessageEvent struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	RecipientID    string            `json:"recipient_id,omitempty"`
	Content        string            `json:"content"`
	Timestamp      int64             `json:"timestamp"`
	Status         string            `json:"status,omitempty"`
	EventType      string            `json:"event_type,omitempty"`
	FileID         string            `json:"file_id,omitempty"`
	FileMetadata   map[string]string `json:"file_metadata,omitempty"`
}

func ParseMessageEvent(data []byte) (MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return MessageEvent{}, err
	}
	if ev.MessageID == "" || ev.ConversationID == "" {
		return MessageEvent{}, ErrInvalidEvent
	}
	return ev, nil
}

func (e MessageEvent) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// StatusEvent is published by connectors onto the status topic when an
// external platform confirms delivery or read.
type StatusEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp"`
	Status         Status `json:"status"`
	EventType      string `json:"event_type"`
	Platform       string `json:"platform,omitempty"`
}

func ParseStatusEvent(data []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StatusEvent{}, err
	}
	if ev.MessageID == "" || ev.ConversationID == "" || !ev.Status.Valid() {
		return StatusEvent{}, ErrInvalidEvent
	}
	return ev, nil
}

func (e StatusEvent) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Message Invariants:
// 1. Identity: a MessageID is stored at most once; re-processing is a no-op.
// 2. Immutability: only Status, DeliveredAt and ReadAt change after creation.
// 3. Storage key: (ConversationID, SentAt) addresses the physical row.
type Message struct {
	ConversationID string
	SentAt         time.Time
	MessageID      string
	SenderID       string
	Content        string
	Status         Status
	FileID         string
	FileMetadata   map[string]string
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// NewMessage projects a MessageEvent into its stored form with the initial
// SENT status.
func NewMessage(ev MessageEvent) (*Message, error) {
	if ev.MessageID == "" || ev.ConversationID == "" || ev.SenderID == "" {
		return nil, ErrInvalidEvent
	}
	return &Message{
		ConversationID: ev.ConversationID,
		SentAt:         ev.SentAt(),
		MessageID:      ev.MessageID,
		SenderID:       ev.SenderID,
		Content:        ev.Content,
		Status:         StatusSent,
		FileID:         ev.FileID,
		FileMetadata:   ev.FileMetadata,
	}, nil
}

const (
	directPrefix = "direct_"
	groupPrefix  = "group_"
	userPrefix   = "user_"
)

// IsGroupConversation reports whether the conversation id names a
// multi-party conversation.
func IsGroupConversation(conversationID string) bool {
	return strings.HasPrefix(conversationID, groupPrefix)
}

// DirectRecipient derives the recipient of a 1:1 conversation from its id.
// The id encodes both participants as direct_user_<A>_user_<B>; the
// recipient is whichever participant is not the sender. Returns false for
// any shape it cannot parse, or when the sender matches neither participant.
func DirectRecipient(conversationID, senderID string) (string, bool) {
	if !strings.HasPrefix(conversationID, directPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(conversationID, directPrefix)
	if !strings.HasPrefix(rest, userPrefix) {
		return "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(rest, userPrefix), "_user_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	userA := userPrefix + parts[0]
	userB := userPrefix + parts[1]
	switch senderID {
	case userA:
		return userB, true
	case userB:
		return userA, true
	default:
		return "", false
	}
}

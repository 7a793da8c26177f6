// Package processor orchestrates one message event from "received from
// the log" to "notified": dedup, persist, route or deliver, status
// update, notification fan-out.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/notify"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/observability"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/store"
)

// Router is the routing decision the processor consults for
// platform-prefixed recipients.
type Router interface {
	ShouldRoute(recipientID string) bool
	Route(ctx context.Context, ev domain.MessageEvent) bool
}

// DeliverFunc performs local delivery. It stands in for a push, SMS or
// webhook dispatch and may fail softly.
type DeliverFunc func(ctx context.Context, ev domain.MessageEvent) error

// SleepDeliver returns the default local delivery simulation: a bounded
// blocking delay standing in for the real dispatch call.
func SleepDeliver(delay time.Duration) DeliverFunc {
	return func(ctx context.Context, ev domain.MessageEvent) error {
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Processing results recorded in metrics.
const (
	resultDelivered = "DELIVERED"
	resultRouted    = "ROUTED"
	resultDuplicate = "DUPLICATE"
	resultFailed    = "FAILED"
)

type Processor struct {
	store    store.MessageStore
	router   Router
	notifier notify.Publisher
	deliver  DeliverFunc
	metrics  *observability.Metrics
	log      *zap.Logger
}

func New(st store.MessageStore, rt Router, notifier notify.Publisher,
	deliver DeliverFunc, metrics *observability.Metrics, log *zap.Logger) *Processor {
	return &Processor{
		store:    st,
		router:   rt,
		notifier: notifier,
		deliver:  deliver,
		metrics:  metrics,
		log:      log,
	}
}

// Process handles one event. It returns (false, nil) for a duplicate,
// which the caller treats as success for offset purposes. A non-nil error
// means the event must be redelivered: only persistence failures take
// that path, every other failure is absorbed and logged.
func (p *Processor) Process(ctx context.Context, ev domain.MessageEvent) (bool, error) {
	start := time.Now()
	log := p.log.With(
		zap.String("message_id", ev.MessageID),
		zap.String("conversation_id", ev.ConversationID),
	)

	// [1] Dedup: a redelivered message id is a no-op, never an error.
	exists, err := p.store.MessageExists(ctx, ev.MessageID)
	if err != nil {
		p.observe(resultFailed, start)
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		log.Info("skipping duplicate message")
		p.observe(resultDuplicate, start)
		return false, nil
	}

	// [2] Persist with status SENT. A failure here is fatal for the
	// event: the offset is withheld and the log redelivers.
	msg, err := domain.NewMessage(ev)
	if err != nil {
		p.observe(resultFailed, start)
		return false, fmt.Errorf("build message: %w", err)
	}
	writeStart := time.Now()
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.metrics.StoreWrites.WithLabelValues("save", "error").Observe(time.Since(writeStart).Seconds())
		p.observe(resultFailed, start)
		return false, fmt.Errorf("persist message: %w", err)
	}
	p.metrics.StoreWrites.WithLabelValues("save", "ok").Observe(time.Since(writeStart).Seconds())
	log.Info("message saved", zap.String("status", string(domain.StatusSent)))

	// [3] Resolve the recipient. A malformed conversation id degrades to
	// best-effort: the message is already persisted, so processing
	// continues without routing or notification.
	recipientID, isGroup := p.resolveRecipient(ev, log)

	// [4] Routing decision. A routed event ends here with status SENT;
	// the connector owns the deliver/notify continuation.
	if recipientID != "" && p.router != nil && p.router.ShouldRoute(recipientID) {
		routed := ev
		routed.RecipientID = recipientID
		if p.router.Route(ctx, routed) {
			log.Info("message routed to external connector",
				zap.String("recipient_id", recipientID))
			p.observe(resultRouted, start)
			return true, nil
		}
		log.Warn("routing failed, falling back to local delivery",
			zap.String("recipient_id", recipientID))
	}

	// [5] Local delivery. Soft failure: the message stays SENT and no
	// redelivery is triggered.
	delivered := true
	if err := p.deliver(ctx, ev); err != nil {
		delivered = false
		log.Warn("local delivery failed, message remains SENT", zap.Error(err))
	}

	// [6] Status update, tolerated on failure (eventual consistency).
	if delivered {
		writeStart = time.Now()
		err := p.store.UpdateMessageStatus(ctx, msg.MessageID, msg.ConversationID, msg.SentAt, domain.StatusDelivered)
		if err != nil {
			p.metrics.StoreWrites.WithLabelValues("update_status", "error").Observe(time.Since(writeStart).Seconds())
			log.Warn("failed to update status to DELIVERED", zap.Error(err))
		} else {
			p.metrics.StoreWrites.WithLabelValues("update_status", "ok").Observe(time.Since(writeStart).Seconds())
		}
	}

	// [7] Notification fan-out, regardless of delivery outcome.
	if isGroup {
		p.notifyGroup(ctx, ev, log)
	} else if recipientID != "" {
		p.notifyDirect(ctx, ev, recipientID, log)
	}

	p.observe(resultDelivered, start)
	return true, nil
}

// resolveRecipient returns the single recipient for a direct
// conversation, or ("", true) for a group. An unresolvable recipient
// yields ("", false) and a warning.
func (p *Processor) resolveRecipient(ev domain.MessageEvent, log *zap.Logger) (string, bool) {
	if domain.IsGroupConversation(ev.ConversationID) {
		return "", true
	}
	if ev.RecipientID != "" {
		return ev.RecipientID, false
	}
	if recipient, ok := domain.DirectRecipient(ev.ConversationID, ev.SenderID); ok {
		return recipient, false
	}
	log.Warn("could not determine recipient, skipping routing and notification")
	return "", false
}

func (p *Processor) notifyDirect(ctx context.Context, ev domain.MessageEvent, recipientID string, log *zap.Logger) {
	n := notify.NewMessageNotification{
		RecipientID:    recipientID,
		MessageID:      ev.MessageID,
		SenderID:       ev.SenderID,
		SenderUsername: p.username(ctx, ev.SenderID),
		ConversationID: ev.ConversationID,
		Content:        ev.Content,
		FileID:         ev.FileID,
	}
	if err := p.notifier.PublishNewMessage(ctx, n); err != nil {
		log.Warn("failed to publish notification",
			zap.String("recipient_id", recipientID), zap.Error(err))
		return
	}
	p.metrics.NotificationsSent.WithLabelValues("direct").Inc()
}

// notifyGroup publishes individually to every member except the sender.
// An unfetchable member list is logged and skipped, never fatal.
func (p *Processor) notifyGroup(ctx context.Context, ev domain.MessageEvent, log *zap.Logger) {
	members, err := p.store.GetGroupMembers(ctx, ev.ConversationID)
	if err != nil {
		log.Warn("failed to fetch group members, skipping notifications", zap.Error(err))
		return
	}
	if len(members) == 0 {
		log.Warn("group has no members, skipping notifications")
		return
	}

	senderUsername := p.username(ctx, ev.SenderID)
	groupName, err := p.store.GetGroupName(ctx, ev.ConversationID)
	if err != nil {
		log.Warn("failed to fetch group name", zap.Error(err))
	}

	for _, memberID := range members {
		if memberID == ev.SenderID {
			continue
		}
		n := notify.NewMessageNotification{
			RecipientID:    memberID,
			MessageID:      ev.MessageID,
			SenderID:       ev.SenderID,
			SenderUsername: senderUsername,
			ConversationID: ev.ConversationID,
			Content:        ev.Content,
			FileID:         ev.FileID,
			GroupName:      groupName,
		}
		if err := p.notifier.PublishNewMessage(ctx, n); err != nil {
			log.Warn("failed to publish group notification",
				zap.String("member_id", memberID), zap.Error(err))
			continue
		}
		p.metrics.NotificationsSent.WithLabelValues("group").Inc()
	}
}

func (p *Processor) username(ctx context.Context, userID string) string {
	name, err := p.store.GetUsername(ctx, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

func (p *Processor) observe(result string, start time.Time) {
	p.metrics.MessagesProcessed.WithLabelValues(result).Inc()
	p.metrics.ProcessingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

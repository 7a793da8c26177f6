// Package router decides whether a message's recipient lives on an
// external platform and hands routed events to the platform's connector
// via its inbound queue.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/connector"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

// Producer publishes a routed event onto a connector's inbound topic.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// PlatformFromRecipient extracts the platform prefix from a recipient id
// of the form "<platform>:<address>". A plain user id yields the empty
// string.
func PlatformFromRecipient(recipientID string) string {
	idx := strings.Index(recipientID, ":")
	if idx <= 0 {
		return ""
	}
	return recipientID[:idx]
}

// OutboundTopic names the logical queue a platform connector consumes.
func OutboundTopic(platform string) string {
	return platform + "-outbound"
}

type ConnectorRouter struct {
	registry *connector.Registry
	producer Producer
	log      *zap.Logger
}

func New(registry *connector.Registry, producer Producer, log *zap.Logger) *ConnectorRouter {
	return &ConnectorRouter{registry: registry, producer: producer, log: log}
}

// ShouldRoute reports whether the recipient requires external routing: a
// platform-prefixed id whose platform has a registered connector.
func (r *ConnectorRouter) ShouldRoute(recipientID string) bool {
	platform := PlatformFromRecipient(recipientID)
	return platform != "" && r.registry.IsRegistered(platform)
}

// Route hands the event to the recipient's platform connector by
// publishing it onto the connector's inbound topic. Returns false when
// the connector is missing, unhealthy or the hand-off fails, so the
// caller can fall back to local delivery instead of failing the event.
func (r *ConnectorRouter) Route(ctx context.Context, ev domain.MessageEvent) bool {
	platform := PlatformFromRecipient(ev.RecipientID)
	if platform == "" {
		return false
	}

	instance, ok := r.registry.Get(platform)
	if !ok {
		r.log.Warn("no connector instance for platform", zap.String("platform", platform))
		return false
	}
	if !instance.IsHealthy() {
		r.log.Warn("connector unhealthy, not routing",
			zap.String("platform", platform),
			zap.String("message_id", ev.MessageID),
		)
		return false
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("failed to marshal event for routing", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.producer.Publish(ctx, OutboundTopic(platform), ev.ConversationID, payload); err != nil {
		r.log.Error("failed to hand off event to connector",
			zap.String("platform", platform),
			zap.String("message_id", ev.MessageID),
			zap.Error(err),
		)
		return false
	}

	r.log.Info("event routed to connector",
		zap.String("platform", platform),
		zap.String("message_id", ev.MessageID),
	)
	return true
}

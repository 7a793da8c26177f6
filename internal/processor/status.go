package processor

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/store"
)

// StatusHandler applies status updates published by platform connectors,
// completing the eventually-consistent lifecycle of routed messages.
// Update failures are absorbed: the connector's publish is best-effort
// and a missed update leaves the message at its previous status.
type StatusHandler struct {
	store store.MessageStore
	log   *zap.Logger
}

func NewStatusHandler(st store.MessageStore, log *zap.Logger) *StatusHandler {
	return &StatusHandler{store: st, log: log}
}

func (h *StatusHandler) HandleBatch(ctx context.Context, records []*kgo.Record) error {
	for _, r := range records {
		ev, err := domain.ParseStatusEvent(r.Value)
		if err != nil {
			h.log.Error("dropping unparseable status event",
				zap.Int64("offset", r.Offset),
				zap.Error(err),
			)
			continue
		}
		err = h.store.UpdateMessageStatus(ctx, ev.MessageID, ev.ConversationID, ev.SentAt(), ev.Status)
		if err != nil {
			h.log.Warn("failed to apply status update",
				zap.String("message_id", ev.MessageID),
				zap.String("status", string(ev.Status)),
				zap.Error(err),
			)
			continue
		}
		h.log.Info("status update applied",
			zap.String("message_id", ev.MessageID),
			zap.String("status", string(ev.Status)),
			zap.String("platform", ev.Platform),
		)
	}
	return nil
}

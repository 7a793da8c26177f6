package processor

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

// Handler adapts the Processor to the batch consumer. A persistence
// failure in any record aborts the batch before commit, so the whole
// batch is redelivered; dedup makes the replay safe. Records that cannot
// even be parsed are logged and dropped, since redelivering them can
// never succeed.
type Handler struct {
	proc *Processor
	log  *zap.Logger
}

func NewHandler(proc *Processor, log *zap.Logger) *Handler {
	return &Handler{proc: proc, log: log}
}

func (h *Handler) HandleBatch(ctx context.Context, records []*kgo.Record) error {
	for _, r := range records {
		ev, err := domain.ParseMessageEvent(r.Value)
		if err != nil {
			h.log.Error("dropping unparseable record",
				zap.Int64("offset", r.Offset),
				zap.Int32("partition", r.Partition),
				zap.Error(err),
			)
			continue
		}
		if _, err := h.proc.Process(ctx, ev); err != nil {
			return fmt.Errorf("process message %s: %w", ev.MessageID, err)
		}
	}
	return nil
}

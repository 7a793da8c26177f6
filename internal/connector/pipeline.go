package connector

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/breaker"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
)

// DeliverFunc performs the concrete platform delivery for one event.
type DeliverFunc func(ctx context.Context, ev domain.MessageEvent) error

// Pipeline is the resilience template shared by every connector: circuit
// breaker gate, delivery, breaker bookkeeping, health tracking, typed
// errors. Connectors compose a Pipeline around their own delivery call
// instead of inheriting a common send method.
type Pipeline struct {
	connectorID string
	breaker     *breaker.Breaker
	healthy     atomic.Bool
	log         *zap.Logger
}

func NewPipeline(connectorID string, b *breaker.Breaker, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		connectorID: connectorID,
		breaker:     b,
		log:         log.With(zap.String("connector", connectorID)),
	}
	p.healthy.Store(true)
	return p
}

// Send runs one delivery through the template. A denial from the breaker
// fails fast with CategoryCircuitOpen before deliver is invoked; a
// delivery failure is recorded on the breaker and surfaced as
// CategorySendError.
func (p *Pipeline) Send(ctx context.Context, ev domain.MessageEvent, deliver DeliverFunc) error {
	if !p.breaker.Allow() {
		p.healthy.Store(false)
		return NewError(p.connectorID, CategoryCircuitOpen, "circuit breaker is open, rejecting request", nil)
	}

	if err := deliver(ctx, ev); err != nil {
		p.breaker.RecordFailure()
		p.healthy.Store(false)
		return NewError(p.connectorID, CategorySendError, "failed to send message", err)
	}

	p.breaker.RecordSuccess()
	p.healthy.Store(true)
	p.log.Debug("message sent", zap.String("message_id", ev.MessageID))
	return nil
}

// Healthy reports the last delivery outcome combined with the breaker
// state: an open circuit always means unhealthy.
func (p *Pipeline) Healthy() bool {
	return p.healthy.Load() && p.breaker.State() != breaker.StateOpen
}

func (p *Pipeline) Breaker() *breaker.Breaker { return p.breaker }

package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/breaker"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/observability"
)

// StatusPublisher reports delivery progress of externally routed messages
// back into the pipeline.
type StatusPublisher interface {
	PublishDelivered(ctx context.Context, ev domain.MessageEvent) error
	PublishRead(ctx context.Context, ev domain.MessageEvent) error
}

var errSimulatedFailure = errors.New("simulated provider api failure")

// WorkerConfig parameterizes one channel worker. The WhatsApp and
// Instagram connectors are the same worker with different labels, latency
// bounds and topics.
type WorkerConfig struct {
	Platform     string
	DisplayName  string
	InboundTopic string
	GroupID      string

	// Simulated provider behavior.
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64

	// Randomized delay before the READ receipt is simulated.
	ReadDelayMin time.Duration
	ReadDelayMax time.Duration
}

// WhatsAppConfig returns the worker parameters for the WhatsApp channel.
func WhatsAppConfig(failureRate float64) WorkerConfig {
	return WorkerConfig{
		Platform:     "whatsapp",
		DisplayName:  "WhatsApp Business API",
		InboundTopic: "whatsapp-outbound",
		GroupID:      "connector-whatsapp-group",
		MinLatency:   200 * time.Millisecond,
		MaxLatency:   500 * time.Millisecond,
		FailureRate:  failureRate,
		ReadDelayMin: 2 * time.Second,
		ReadDelayMax: 5 * time.Second,
	}
}

// InstagramConfig returns the worker parameters for the Instagram channel.
func InstagramConfig(failureRate float64) WorkerConfig {
	return WorkerConfig{
		Platform:     "instagram",
		DisplayName:  "Instagram Messaging API",
		InboundTopic: "instagram-outbound",
		GroupID:      "connector-instagram-group",
		MinLatency:   300 * time.Millisecond,
		MaxLatency:   700 * time.Millisecond,
		FailureRate:  failureRate,
		ReadDelayMin: 2 * time.Second,
		ReadDelayMax: 5 * time.Second,
	}
}

// Worker is a channel-specific connector. It consumes its platform's
// outbound topic with at-least-once semantics, runs every simulated
// provider call through the shared resilience pipeline, publishes
// DELIVERED on success and schedules a READ receipt on an independent
// timer so consumption is never blocked.
type Worker struct {
	cfg      WorkerConfig
	pipeline *Pipeline
	status   StatusPublisher
	metrics  *observability.Metrics
	log      *zap.Logger

	randFloat func() float64

	closed    atomic.Bool
	timersMu  sync.Mutex
	timers    map[int64]*time.Timer
	timerSeq  int64
	pendingWG sync.WaitGroup
}

func NewWorker(cfg WorkerConfig, status StatusPublisher, metrics *observability.Metrics,
	log *zap.Logger, opts ...breaker.Option) *Worker {

	log = log.With(zap.String("platform", cfg.Platform))
	opts = append([]breaker.Option{
		breaker.WithLogger(log),
		breaker.WithStateChange(func(_, to breaker.State) {
			metrics.BreakerState.WithLabelValues("connector-" + cfg.Platform).Set(float64(to))
		}),
	}, opts...)
	b := breaker.New("connector-"+cfg.Platform, opts...)
	// Expose the gauge from the start, not from the first transition.
	metrics.BreakerState.WithLabelValues("connector-" + cfg.Platform).Set(float64(b.State()))

	return &Worker{
		cfg:       cfg,
		pipeline:  NewPipeline(cfg.Platform, b, log),
		status:    status,
		metrics:   metrics,
		log:       log,
		randFloat: rand.Float64,
		timers:    make(map[int64]*time.Timer),
	}
}

func (w *Worker) ID() string   { return w.cfg.Platform }
func (w *Worker) Name() string { return w.cfg.DisplayName }

// InboundTopic is the queue this worker's consume loop subscribes to.
func (w *Worker) InboundTopic() string { return w.cfg.InboundTopic }

// GroupID scopes the worker's consumer group so additional instances
// share partitions.
func (w *Worker) GroupID() string { return w.cfg.GroupID }

func (w *Worker) IsHealthy() bool { return !w.closed.Load() && w.pipeline.Healthy() }

func (w *Worker) Breaker() *breaker.Breaker { return w.pipeline.Breaker() }

func (w *Worker) Initialize(ctx context.Context) error {
	w.log.Info("connector initialized",
		zap.String("topic", w.cfg.InboundTopic),
		zap.String("group", w.cfg.GroupID),
	)
	return nil
}

// Shutdown stops accepting work and cancels pending READ timers. Timers
// that already fired are waited out so no publish races the shutdown.
func (w *Worker) Shutdown(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.timersMu.Lock()
	for seq, timer := range w.timers {
		if timer.Stop() {
			// Callback will never run; release its wait slot here.
			w.pendingWG.Done()
		}
		delete(w.timers, seq)
	}
	w.timersMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.pendingWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.log.Info("connector shut down")
	return nil
}

// SendText delivers a plain text message through the resilience pipeline.
func (w *Worker) SendText(ctx context.Context, conversationID, content string) error {
	ev := domain.MessageEvent{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       "connector-" + w.cfg.Platform,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
		EventType:      domain.EventTypeMessageSent,
	}
	return w.SendMessage(ctx, ev)
}

// SendFile delivers a file attachment reference through the resilience
// pipeline. The file content itself is opaque to the connector.
func (w *Worker) SendFile(ctx context.Context, conversationID, fileID string, fileMetadata map[string]string) error {
	ev := domain.MessageEvent{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       "connector-" + w.cfg.Platform,
		Timestamp:      time.Now().UnixMilli(),
		EventType:      domain.EventTypeMessageSent,
		FileID:         fileID,
		FileMetadata:   fileMetadata,
	}
	return w.SendMessage(ctx, ev)
}

// SendMessage is the generic send entry point: breaker gate, simulated
// provider call, breaker bookkeeping and typed errors all come from the
// shared pipeline.
func (w *Worker) SendMessage(ctx context.Context, ev domain.MessageEvent) error {
	if w.closed.Load() {
		return NewError(w.cfg.Platform, CategorySendError, "connector is shut down", nil)
	}
	err := w.pipeline.Send(ctx, ev, w.callProviderAPI)
	switch {
	case err == nil:
		w.metrics.ConnectorSends.WithLabelValues(w.cfg.Platform, "success").Inc()
	case IsCircuitOpen(err):
		w.metrics.ConnectorSends.WithLabelValues(w.cfg.Platform, "circuit_open").Inc()
	default:
		w.metrics.ConnectorSends.WithLabelValues(w.cfg.Platform, "error").Inc()
	}
	return err
}

// OnWebhookEvent translates a platform receipt callback into a status
// publish.
func (w *Worker) OnWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	msgEvent := domain.MessageEvent{
		MessageID:      ev.MessageID,
		ConversationID: ev.ConversationID,
		Timestamp:      ev.Timestamp,
	}
	switch ev.Type {
	case WebhookMessageDelivered:
		return w.status.PublishDelivered(ctx, msgEvent)
	case WebhookMessageRead:
		return w.status.PublishRead(ctx, msgEvent)
	case WebhookMessageFailed:
		w.pipeline.Breaker().RecordFailure()
		return nil
	default:
		return fmt.Errorf("unsupported webhook event type: %s", ev.Type)
	}
}

// HandleBatch processes one polled batch from the platform's outbound
// topic. Every failure is absorbed so a bad message never halts the
// worker; the nil return commits the batch, and redelivered messages are
// made safe downstream by the store's dedup.
func (w *Worker) HandleBatch(ctx context.Context, records []*kgo.Record) error {
	for _, r := range records {
		w.processRecord(ctx, r)
	}
	return nil
}

func (w *Worker) processRecord(ctx context.Context, r *kgo.Record) {
	ev, err := domain.ParseMessageEvent(r.Value)
	if err != nil {
		w.log.Error("failed to parse message event",
			zap.Int64("offset", r.Offset),
			zap.Error(err),
		)
		w.pipeline.Breaker().RecordFailure()
		w.metrics.ConsumeErrors.WithLabelValues("connector-"+w.cfg.Platform, "parse").Inc()
		return
	}

	err = w.SendMessage(ctx, ev)
	if err != nil {
		if IsCircuitOpen(err) {
			w.log.Warn("circuit open, skipping provider call",
				zap.String("message_id", ev.MessageID))
			return
		}
		w.log.Error("delivery failed",
			zap.String("message_id", ev.MessageID),
			zap.Error(err),
		)
		return
	}

	if err := w.status.PublishDelivered(ctx, ev); err != nil {
		w.log.Error("failed to publish DELIVERED status",
			zap.String("message_id", ev.MessageID),
			zap.Error(err),
		)
	}
	w.scheduleRead(ev)
}

// callProviderAPI stands in for the real platform HTTP call: a bounded
// latency sleep with a configurable failure rate.
func (w *Worker) callProviderAPI(ctx context.Context, ev domain.MessageEvent) error {
	if w.randFloat() < w.cfg.FailureRate {
		return errSimulatedFailure
	}

	delay := w.cfg.MinLatency
	if span := w.cfg.MaxLatency - w.cfg.MinLatency; span > 0 {
		delay += time.Duration(w.randFloat() * float64(span))
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// scheduleRead simulates the recipient reading the message after a
// randomized delay. The timer is tracked so Shutdown can cancel it.
func (w *Worker) scheduleRead(ev domain.MessageEvent) {
	delay := w.cfg.ReadDelayMin
	if span := w.cfg.ReadDelayMax - w.cfg.ReadDelayMin; span > 0 {
		delay += time.Duration(w.randFloat() * float64(span))
	}

	w.timersMu.Lock()
	// Checked under timersMu: either this timer lands in the map before
	// Shutdown drains it, or closed is already observed here.
	if w.closed.Load() {
		w.timersMu.Unlock()
		return
	}
	w.timerSeq++
	seq := w.timerSeq
	w.pendingWG.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer w.pendingWG.Done()
		w.timersMu.Lock()
		delete(w.timers, seq)
		w.timersMu.Unlock()
		if w.closed.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.status.PublishRead(ctx, ev); err != nil {
			w.log.Error("failed to publish READ status",
				zap.String("message_id", ev.MessageID),
				zap.Error(err),
			)
		}
	})
	w.timers[seq] = timer
	w.timersMu.Unlock()
}

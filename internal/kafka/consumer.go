package kafka

import (
	"context"
	"errors"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/observability"
)

// BatchHandler processes one polled batch. Returning an error withholds
// the offset commit for the whole batch so every record is redelivered;
// handlers that absorb per-record failures return nil to commit.
type BatchHandler interface {
	HandleBatch(ctx context.Context, records []*kgo.Record) error
}

// Consumer is a consumer-group member with auto-commit disabled. Offsets
// are committed once per batch, only after the handler returns without
// error, giving at-least-once delivery across crashes.
type Consumer struct {
	name    string
	client  *kgo.Client
	handler BatchHandler
	log     *zap.Logger
	metrics *observability.Metrics
	done    chan struct{}
}

func NewConsumer(name string, brokers []string, group string, topics []string,
	handler BatchHandler, log *zap.Logger, metrics *observability.Metrics) (*Consumer, error) {

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			log.Info("kafka partitions revoked", zap.String("consumer", name))
		}),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			log.Info("kafka partitions assigned", zap.String("consumer", name))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		name:    name,
		client:  cl,
		handler: handler,
		log:     log.With(zap.String("consumer", name)),
		metrics: metrics,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the poll loop until ctx is canceled. The in-flight batch is
// finished and committed before the loop exits.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		c.log.Info("kafka consumer started")
		for {
			select {
			case <-ctx.Done():
				c.log.Info("kafka consumer stopping: context canceled")
				return
			default:
			}

			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return
			}
			if errs := fetches.Errors(); len(errs) > 0 {
				fatal := false
				for _, ferr := range errs {
					if errors.Is(ferr.Err, context.Canceled) {
						fatal = true
						continue
					}
					c.log.Error("kafka fetch error",
						zap.String("topic", ferr.Topic),
						zap.Int32("partition", ferr.Partition),
						zap.Error(ferr.Err),
					)
					c.metrics.ConsumeErrors.WithLabelValues(c.name, "fetch").Inc()
				}
				if fatal {
					return
				}
				continue
			}

			var records []*kgo.Record
			fetches.EachRecord(func(r *kgo.Record) {
				records = append(records, r)
			})
			if len(records) == 0 {
				continue
			}

			if err := c.handler.HandleBatch(ctx, records); err != nil {
				// No commit: the batch is redelivered and dedup makes the
				// redelivery safe.
				c.log.Error("batch handling failed, withholding commit",
					zap.Int("records", len(records)),
					zap.Error(err),
				)
				c.metrics.ConsumeErrors.WithLabelValues(c.name, "handle").Inc()
				continue
			}

			// Commit with a fresh context so a shutdown mid-batch still
			// records the finished work.
			if err := c.client.CommitRecords(context.WithoutCancel(ctx), records...); err != nil {
				c.log.Error("offset commit failed", zap.Error(err))
				c.metrics.ConsumeErrors.WithLabelValues(c.name, "commit").Inc()
				continue
			}
			c.metrics.BatchesCommitted.WithLabelValues(c.name).Inc()
		}
	}()
}

// Close blocks until the poll loop has exited, then releases the client.
func (c *Consumer) Close() {
	<-c.done
	c.client.Close()
}

package kafka

import (
	"context"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Producer wraps an idempotent confluent producer. Publish blocks until
// the broker acknowledges the write.
type Producer struct {
	p *kafka.Producer
}

func NewProducer(brokers []string) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":                     strings.Join(brokers, ","),
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"retries":                               1000000,
		"max.in.flight.requests.per.connection": 5,
	})
	if err != nil {
		return nil, err
	}
	return &Producer{p: p}, nil
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	deliveryChan := make(chan kafka.Event, 1)

	err := p.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: value,
	}, deliveryChan)
	if err != nil {
		return err
	}

	select {
	case e := <-deliveryChan:
		m := e.(*kafka.Message)
		if m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits up to timeoutMs for in-flight messages to be delivered.
func (p *Producer) Flush(timeoutMs int) {
	p.p.Flush(timeoutMs)
}

func (p *Producer) Close() {
	p.p.Close()
}

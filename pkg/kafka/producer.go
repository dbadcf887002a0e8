package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Message is a record to produce.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer is a synchronous Kafka producer.
//
// Produce blocks until the broker acknowledges the message. Background goroutines drain the
// producer's event and log channels; Close MUST be called to stop them and flush.
type Producer struct {
	producer   *kafka.Producer
	log        *zap.SugaredLogger
	errCh      chan error
	eventsDone chan struct{}
	logsDone   chan struct{}
	closedCh   chan struct{}
	once       sync.Once
}

const queueFullRetryDelay = time.Second

// NewProducer creates a producer. ctx bounds the background goroutines.
func NewProducer(ctx context.Context, conf *kafka.ConfigMap, log *zap.SugaredLogger) (*Producer, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	logsEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		return nil, fmt.Errorf("failed to read go.logs.channel.enable: %w", err)
	}
	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	q := &Producer{
		producer:   p,
		log:        log,
		errCh:      make(chan error, 1),
		eventsDone: make(chan struct{}),
		logsDone:   make(chan struct{}),
		closedCh:   make(chan struct{}),
	}
	if enabled, _ := logsEnabled.(bool); enabled {
		go q.forwardLogs(ctx)
	} else {
		close(q.logsDone)
	}
	go q.monitorEvents(ctx)

	return q, nil
}

// Produce sends msg and waits for its delivery report.
//
// A full local queue is retried every second until ctx is done. Other produce failures and failed
// delivery reports are returned. When ctx is canceled first the message may still be delivered;
// consumers dedupe on the event id.
func (q *Producer) Produce(ctx context.Context, msg Message) error {
	deliveryCh := make(chan kafka.Event, 1)

	kMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &msg.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		kMsg.Headers = append(kMsg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := q.produceWithRetry(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryCh:
		return q.handleDelivery(kMsg, ev)
	}
}

// Close stops the background goroutines and flushes pending messages for at most timeout.
// Messages still queued after the timeout are lost. Calling Close more than once is a no-op.
func (q *Producer) Close(timeout time.Duration) {
	q.once.Do(func() {
		q.log.Info("closing kafka producer")
		defer close(q.errCh)

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		if pending := q.producer.Flush(int(timeout.Milliseconds())); pending > 0 {
			q.log.Warnw("flush incomplete, messages will be lost", "pending", pending)
		}
		q.producer.Close()
		q.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal producer error. It is closed by Close.
// After an error the producer is unusable.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

func (q *Producer) produceWithRetry(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}
		switch kafkaErr.Code() {
		case kafka.ErrQueueFull:
			q.log.Warnw("producer queue full, retrying", "delay", queueFullRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullRetryDelay):
			}
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case kafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *Producer) handleDelivery(msg *kafka.Message, ev kafka.Event) error {
	m, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
	if err := m.TopicPartition.Error; err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	q.log.Debugw("delivered",
		"topic", *msg.TopicPartition.Topic,
		"partition", m.TopicPartition.Partition,
		"offset", m.TopicPartition.Offset,
	)
	return nil
}

func (q *Producer) forwardLogs(ctx context.Context) {
	defer close(q.logsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case l, ok := <-q.producer.Logs():
			if !ok {
				return
			}
			q.log.Debugw("librdkafka", "level", l.Level, "tag", l.Tag, "message", l.Message)
		}
	}
}

func (q *Producer) monitorEvents(ctx context.Context) {
	defer close(q.eventsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.reportFatal(errors.New("kafka producer event channel closed"))
				return
			}
			switch e := ev.(type) {
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					q.reportFatal(fmt.Errorf("kafka producer failed: %#x: %w", e.Code(), e))
					return
				}
				q.log.Warnw("ignoring kafka error", "code", e.Code(), "error", e)
			case *kafka.Message:
				// Delivery reports go to the per-message channel; anything here is unexpected.
				q.log.Warnw("unexpected delivery report on events channel", "partition", e.TopicPartition)
			default:
				q.log.Debugw("kafka event", "event", e.String())
			}
		}
	}
}

func (q *Producer) reportFatal(err error) {
	select {
	case q.errCh <- err:
	default:
		q.log.Warnw("producer error dropped", "error", err)
	}
}

package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollup-settler/pkg/kafka/testutils"
)

// newOfflineProducer builds a producer whose broker is never reached; librdkafka connects lazily.
func newOfflineProducer(t *testing.T, ctx context.Context, extra cKafka.ConfigMap) *Producer {
	t.Helper()
	cfg := cKafka.ConfigMap{"bootstrap.servers": "localhost:1"}
	for k, v := range extra {
		cfg[k] = v
	}
	p, err := NewProducer(ctx, &cfg, testutils.NewTestLogger(t))
	require.NoError(t, err)
	return p
}

func TestNewProducer_RequiresLogger(t *testing.T) {
	t.Parallel()
	_, err := NewProducer(t.Context(), &cKafka.ConfigMap{"bootstrap.servers": "localhost:1"}, nil)
	require.ErrorContains(t, err, "invalid logger")
}

func TestNewProducer_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewProducer(t.Context(), &cKafka.ConfigMap{"no.such.property": 1}, testutils.NewTestLogger(t))
	require.ErrorContains(t, err, "failed to create kafka producer")
}

func TestProducer_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	p := newOfflineProducer(t, t.Context(), cKafka.ConfigMap{"go.logs.channel.enable": true})

	start := time.Now()
	p.Close(time.Second)
	p.Close(time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, ok := <-p.Errors()
	assert.False(t, ok, "errors channel is closed by Close")
}

func TestProducer_ProduceHonorsContext(t *testing.T) {
	t.Parallel()
	p := newOfflineProducer(t, t.Context(), cKafka.ConfigMap{"message.timeout.ms": 60000})
	defer p.Close(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := p.Produce(ctx, Message{Topic: DefaultTopic, Key: []byte("1"), Value: []byte("{}")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProducer_ProduceCanceledBeforeSend(t *testing.T) {
	t.Parallel()
	p := newOfflineProducer(t, t.Context(), nil)
	defer p.Close(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := p.Produce(ctx, Message{Topic: DefaultTopic})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProducer_StopsWithContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	p := newOfflineProducer(t, ctx, nil)
	cancel()

	select {
	case <-p.eventsDone:
	case <-time.After(2 * time.Second):
		t.Fatal("event monitor did not stop")
	}
	p.Close(100 * time.Millisecond)
}

func TestProducer_HandleDelivery(t *testing.T) {
	t.Parallel()
	q := &Producer{log: testutils.NewTestLogger(t)}
	topic := DefaultTopic
	msg := &cKafka.Message{TopicPartition: cKafka.TopicPartition{Topic: &topic, Partition: cKafka.PartitionAny}}

	ok := &cKafka.Message{TopicPartition: cKafka.TopicPartition{Topic: &topic, Partition: 0, Offset: 42}}
	require.NoError(t, q.handleDelivery(msg, ok))

	failed := &cKafka.Message{TopicPartition: cKafka.TopicPartition{Topic: &topic, Error: errors.New("msg timed out")}}
	require.ErrorContains(t, q.handleDelivery(msg, failed), "delivery failed")

	require.ErrorContains(t, q.handleDelivery(msg, cKafka.Error{}), "unexpected delivery event")
}

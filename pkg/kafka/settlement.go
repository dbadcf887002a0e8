package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

const (
	headerEventType  = "event-type"
	headerPipelineID = "pipeline-id"

	eventTypeSettled = "block.settled"
)

// SettlementEvent is the value of a message on the settlements topic.
//
// EventID is unique per delivery attempt; a block may be announced more than once after a crash, so
// consumers key on (PipelineID, BlockNumber).
type SettlementEvent struct {
	EventID    uuid.UUID              `json:"eventId"`
	PipelineID string                 `json:"pipelineId"`
	EmittedAt  time.Time              `json:"emittedAt"`
	Record     types.SettlementRecord `json:"record"`
}

// Publisher produces one message synchronously. *Producer implements it.
type Publisher interface {
	Produce(ctx context.Context, msg Message) error
}

// SettlementSink publishes every settled block to Kafka, keyed by block number.
type SettlementSink struct {
	publisher  Publisher
	topic      string
	pipelineID string
	now        func() time.Time
}

var _ settlement.Sink = (*SettlementSink)(nil)

func NewSettlementSink(publisher Publisher, topic, pipelineID string) (*SettlementSink, error) {
	if publisher == nil {
		return nil, errors.New("invalid publisher: must not be nil")
	}
	if topic == "" {
		return nil, errors.New("invalid topic: must not be empty")
	}
	return &SettlementSink{publisher: publisher, topic: topic, pipelineID: pipelineID, now: time.Now}, nil
}

func (s *SettlementSink) Name() string { return "kafka" }

func (s *SettlementSink) Record(ctx context.Context, rec types.SettlementRecord) error {
	ev := SettlementEvent{
		EventID:    uuid.New(),
		PipelineID: s.pipelineID,
		EmittedAt:  s.now().UTC(),
		Record:     rec,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode settlement event %d: %w", rec.BlockNumber, err)
	}
	return s.publisher.Produce(ctx, Message{
		Topic: s.topic,
		Key:   []byte(strconv.FormatUint(rec.BlockNumber, 10)),
		Value: value,
		Headers: map[string]string{
			headerEventType:  eventTypeSettled,
			headerPipelineID: s.pipelineID,
		},
	})
}

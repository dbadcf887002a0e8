package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 10 * time.Second

// TopicAdmin is the subset of *kafka.AdminClient used to manage the settlements topic.
type TopicAdmin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, options ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error)
}

var _ TopicAdmin = (*kafka.AdminClient)(nil)

// TopicConfig describes the topic to create or validate.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// TopicExists returns the topic's metadata, or nil when the broker does not know it.
func TopicExists(admin TopicAdmin, topic string) (*kafka.TopicMetadata, error) {
	md, err := admin.GetMetadata(&topic, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for topic %q: %w", topic, err)
	}

	tm, ok := md.Topics[topic]
	if !ok || tm.Error.Code() == kafka.ErrUnknownTopicOrPart {
		return nil, nil
	}
	if tm.Error.Code() != kafka.ErrNoError {
		return nil, fmt.Errorf("topic %q has error: %w", topic, tm.Error)
	}
	return &tm, nil
}

// CreateTopic creates the topic. A topic that already exists is not an error.
func CreateTopic(ctx context.Context, admin TopicAdmin, cfg TopicConfig, log *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", cfg.Name, err)
	}

	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created topic", "topic", r.Topic, "partitions", cfg.NumPartitions, "replicationFactor", cfg.ReplicationFactor)
		case kafka.ErrTopicAlreadyExists:
			log.Infow("topic already exists", "topic", r.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", r.Topic, r.Error)
		}
	}
	return nil
}

// EnsureTopic creates the topic or grows its partition count to cfg.NumPartitions.
//
// Kafka cannot shrink a topic, so more partitions than configured is an error. A different
// replication factor is only logged: changing it needs a manual reassignment.
func EnsureTopic(ctx context.Context, admin TopicAdmin, cfg TopicConfig, log *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	tm, err := TopicExists(admin, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}
	if tm == nil {
		return CreateTopic(ctx, admin, cfg, log)
	}

	partitions := len(tm.Partitions)
	if rf := replicationFactor(tm); rf != cfg.ReplicationFactor {
		log.Warnw("topic replication factor differs from config",
			"topic", cfg.Name,
			"current", rf,
			"desired", cfg.ReplicationFactor,
		)
	}

	switch {
	case partitions < cfg.NumPartitions:
		log.Infow("increasing topic partitions", "topic", cfg.Name, "from", partitions, "to", cfg.NumPartitions)
		return increasePartitions(ctx, admin, cfg.Name, cfg.NumPartitions, log)
	case partitions > cfg.NumPartitions:
		return fmt.Errorf("topic %q has more partitions than configured: %d > %d", cfg.Name, partitions, cfg.NumPartitions)
	default:
		return nil
	}
}

func increasePartitions(ctx context.Context, admin TopicAdmin, topic string, to int, log *zap.SugaredLogger) error {
	results, err := admin.CreatePartitions(ctx, []kafka.PartitionsSpecification{{Topic: topic, IncreaseTo: to}})
	if err != nil {
		return fmt.Errorf("failed to increase partitions for topic %q: %w", topic, err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", r.Topic, r.Error)
		}
		log.Infow("increased partitions", "topic", r.Topic, "partitions", to)
	}
	return nil
}

// replicationFactor reads the replica count of the first partition.
func replicationFactor(tm *kafka.TopicMetadata) int {
	if len(tm.Partitions) == 0 {
		return 0
	}
	return len(tm.Partitions[0].Replicas)
}

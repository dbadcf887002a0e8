package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollup-settler/pkg/kafka/testutils"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	args := m.Called(*topic, allTopics)
	md, _ := args.Get(0).(*kafka.Metadata)
	return md, args.Error(1)
}

func (m *mockAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, _ ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(topics)
	r, _ := args.Get(0).([]kafka.TopicResult)
	return r, args.Error(1)
}

func (m *mockAdmin) CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, _ ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(partitions)
	r, _ := args.Get(0).([]kafka.TopicResult)
	return r, args.Error(1)
}

func metadataWith(topic string, partitions, replicas int) *kafka.Metadata {
	tm := kafka.TopicMetadata{Topic: topic}
	for i := range partitions {
		tm.Partitions = append(tm.Partitions, kafka.PartitionMetadata{ID: int32(i), Replicas: make([]int32, replicas)})
	}
	return &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{topic: tm}}
}

func unknownTopic(topic string) *kafka.Metadata {
	return &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{
		topic: {Topic: topic, Error: kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown", false)},
	}}
}

var settlementsTopic = TopicConfig{Name: DefaultTopic, NumPartitions: 3, ReplicationFactor: 1}

func TestEnsureTopic_CreatesMissingTopic(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", DefaultTopic, false).Return(unknownTopic(DefaultTopic), nil)
	admin.On("CreateTopics", []kafka.TopicSpecification{{Topic: DefaultTopic, NumPartitions: 3, ReplicationFactor: 1}}).
		Return([]kafka.TopicResult{{Topic: DefaultTopic}}, nil).Once()

	require.NoError(t, EnsureTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t)))
	admin.AssertExpectations(t)
}

func TestEnsureTopic_GrowsPartitions(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", DefaultTopic, false).Return(metadataWith(DefaultTopic, 1, 1), nil)
	admin.On("CreatePartitions", []kafka.PartitionsSpecification{{Topic: DefaultTopic, IncreaseTo: 3}}).
		Return([]kafka.TopicResult{{Topic: DefaultTopic}}, nil).Once()

	require.NoError(t, EnsureTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t)))
	admin.AssertExpectations(t)
}

func TestEnsureTopic_RejectsShrink(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", DefaultTopic, false).Return(metadataWith(DefaultTopic, 6, 1), nil)

	err := EnsureTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t))
	require.ErrorContains(t, err, "more partitions than configured")
	admin.AssertNotCalled(t, "CreatePartitions", mock.Anything)
}

func TestEnsureTopic_UpToDate(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", DefaultTopic, false).Return(metadataWith(DefaultTopic, 3, 2), nil)

	require.NoError(t, EnsureTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t)))
	admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
}

func TestEnsureTopic_MetadataError(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("GetMetadata", DefaultTopic, false).Return(nil, errors.New("timed out"))

	err := EnsureTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t))
	require.ErrorContains(t, err, "failed to check topic existence")
}

func TestCreateTopic_AlreadyExistsIsOK(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("CreateTopics", mock.Anything).Return([]kafka.TopicResult{{
		Topic: DefaultTopic,
		Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "exists", false),
	}}, nil)

	require.NoError(t, CreateTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t)))
}

func TestCreateTopic_ResultError(t *testing.T) {
	t.Parallel()
	admin := &mockAdmin{}
	admin.On("CreateTopics", mock.Anything).Return([]kafka.TopicResult{{
		Topic: DefaultTopic,
		Error: kafka.NewError(kafka.ErrTopicAuthorizationFailed, "denied", false),
	}}, nil)

	require.Error(t, CreateTopic(t.Context(), admin, settlementsTopic, testutils.NewTestLogger(t)))
}

func TestTopicConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, settlementsTopic.Validate())
	assert.Error(t, TopicConfig{NumPartitions: 1, ReplicationFactor: 1}.Validate())
	assert.Error(t, TopicConfig{Name: "x", ReplicationFactor: 1}.Validate())
	assert.Error(t, TopicConfig{Name: "x", NumPartitions: 1}.Validate())
}

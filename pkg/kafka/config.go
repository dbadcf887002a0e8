package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	DefaultTopic        = "settlements"
	DefaultFlushTimeout = 15 * time.Second

	messageMaxBytes = 1048576 // 1MB; settlement events are small
)

// SASLConfig holds the SASL credentials. It is read from the environment only so secrets never
// appear in process arguments.
type SASLConfig struct {
	Username         string `env:"KAFKA_SASL_USERNAME"`
	Password         string `env:"KAFKA_SASL_PASSWORD"`
	Mechanism        string `env:"KAFKA_SASL_MECHANISM"    envDefault:"SCRAM-SHA-512"`
	SecurityProtocol string `env:"KAFKA_SECURITY_PROTOCOL" envDefault:"SASL_SSL"`
}

// LoadSASLConfig reads SASLConfig from environment variables.
func LoadSASLConfig() (SASLConfig, error) {
	var cfg SASLConfig
	if err := env.Parse(&cfg); err != nil {
		return SASLConfig{}, fmt.Errorf("failed to parse kafka sasl config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether credentials were provided.
func (s SASLConfig) Enabled() bool {
	return s.Username != "" && s.Password != ""
}

// ApplyToConfigMap adds the SASL settings to cm when credentials are present.
func (s SASLConfig) ApplyToConfigMap(cm *kafka.ConfigMap) {
	if !s.Enabled() {
		return
	}
	_ = cm.SetKey("security.protocol", s.SecurityProtocol)
	_ = cm.SetKey("sasl.mechanisms", s.Mechanism)
	_ = cm.SetKey("sasl.username", s.Username)
	_ = cm.SetKey("sasl.password", s.Password)
}

// ProducerConfig configures the settlement event producer.
type ProducerConfig struct {
	Brokers           string
	Topic             string
	ClientID          string
	EnableLogs        bool
	NumPartitions     int
	ReplicationFactor int
	FlushTimeout      time.Duration
	SASL              SASLConfig
}

func (c ProducerConfig) Validate() error {
	if c.Brokers == "" {
		return errors.New("kafka brokers must not be empty")
	}
	if c.Topic == "" {
		return errors.New("kafka topic must not be empty")
	}
	return c.TopicConfig().Validate()
}

func (c ProducerConfig) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.NumPartitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}

// ConfigMap builds the librdkafka producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": c.Brokers,
		"client.id":         c.ClientID,

		// A settlement event is only reported delivered once every in-sync replica has it.
		"acks":               "all",
		"enable.idempotence": true,

		"linger.ms":         5,
		"compression.type":  "lz4",
		"message.max.bytes": messageMaxBytes,

		"go.logs.channel.enable": c.EnableLogs,
	}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

// AdminConfigMap builds the configuration of the admin client used to ensure the topic.
func (c ProducerConfig) AdminConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{"bootstrap.servers": c.Brokers}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

package main

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
	"github.com/ava-labs/rollup-settler/pkg/kafka"
	"github.com/ava-labs/rollup-settler/pkg/settlement/onchain"
	"github.com/ava-labs/rollup-settler/pkg/types"
	"github.com/ava-labs/rollup-settler/pkg/utils"
)

// Config holds all configuration for the settler run command
type Config struct {
	// Application settings
	Verbose    bool
	DBPath     string
	PipelineID string

	// Source settings
	Mode             types.Mode
	RollupRPCURL     string
	SovereignRPCURL  string
	Genesis          *uint64
	End              *uint64
	RPCCallTimeout   time.Duration
	HeadPollInterval time.Duration
	BlockCacheSize   int

	// Scheduler settings
	Concurrency  uint64
	MaxFailures  int
	RetryBackoff time.Duration
	IdleBackoff  time.Duration
	HeadsCap     int

	// Prover settings
	ProverURL           string
	ProverAPIKey        string
	ProverProofURL      string
	ProverHTTPTimeout   time.Duration
	ProverRateLimit     float64
	PollInitial         time.Duration
	PollCeiling         time.Duration
	PollMaxWait         time.Duration
	MaxSubmissions      int
	PieGeneratorURL     string
	PieGeneratorTimeout time.Duration
	SnosProgram         string
	SnosProgramHash     string
	BridgeProgram       string
	BridgeProgramHash   string

	// Mock settings
	MockEnable     bool
	MockSnosFact   string
	MockBridgeFact string

	// Settlement settings
	SettlementRPCURL string
	CoreContract     common.Address
	FactRegistry     common.Address
	FactRegistration onchain.FactRegistration
	PrivateKey       *ecdsa.PrivateKey
	ChainID          *big.Int
	ConfirmTimeout   time.Duration
	GasMarginPercent uint64
	SettleAttempts   int
	SettleBackoff    time.Duration

	// DA settings
	DAEnable          bool
	CelestiaRPCURL    string
	CelestiaToken     string
	CelestiaNamespace string
	CelestiaKeyName   string

	// Kafka settings; events are disabled when Kafka.Brokers is empty
	Kafka kafka.ProducerConfig

	// ClickHouse settings
	ClickHouseEnable    bool
	ClickHouse          clickhouse.Config
	SettlementTableName string

	// Maintenance settings
	PruneInterval       time.Duration
	GapWatchdogInterval time.Duration
	GapWatchdogMaxGap   uint64

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// KafkaEnabled reports whether settlement events are produced.
func (c *Config) KafkaEnabled() bool {
	return c.Kafka.Brokers != ""
}

// DAEnabled reports whether blocks are published to Celestia: always in sovereign mode, on request
// in persistent mode.
func (c *Config) DAEnabled() bool {
	return c.Mode == types.ModeSovereign || c.DAEnable
}

// loadEnvFile loads the file given by --env-file, if any. Variables already set in the
// environment win over the file.
func loadEnvFile(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// buildConfig builds a Config from CLI context flags. Every problem is reported at once.
func buildConfig(c *cli.Context) (*Config, error) {
	if err := loadEnvFile(c); err != nil {
		return nil, err
	}

	cfg := &Config{
		Verbose:             c.Bool("verbose"),
		DBPath:              c.String("db-path"),
		PipelineID:          c.String("pipeline-id"),
		RollupRPCURL:        c.String("rollup-rpc-url"),
		SovereignRPCURL:     c.String("sovereign-rpc-url"),
		RPCCallTimeout:      c.Duration("rpc-call-timeout"),
		HeadPollInterval:    c.Duration("head-poll-interval"),
		BlockCacheSize:      c.Int("block-cache-size"),
		Concurrency:         c.Uint64("concurrency"),
		MaxFailures:         c.Int("max-failures"),
		RetryBackoff:        c.Duration("retry-backoff"),
		IdleBackoff:         c.Duration("idle-backoff"),
		HeadsCap:            c.Int("heads-ch-capacity"),
		ProverURL:           c.String("prover-url"),
		ProverAPIKey:        c.String("prover-api-key"),
		ProverProofURL:      c.String("prover-proof-url"),
		ProverHTTPTimeout:   c.Duration("prover-http-timeout"),
		ProverRateLimit:     c.Float64("prover-rate-limit"),
		PollInitial:         c.Duration("poll-initial"),
		PollCeiling:         c.Duration("poll-ceiling"),
		PollMaxWait:         c.Duration("poll-max-wait"),
		MaxSubmissions:      c.Int("max-submissions"),
		PieGeneratorURL:     c.String("pie-generator-url"),
		PieGeneratorTimeout: c.Duration("pie-generator-timeout"),
		SnosProgram:         c.String("snos-program"),
		SnosProgramHash:     c.String("snos-program-hash"),
		BridgeProgram:       c.String("bridge-program"),
		BridgeProgramHash:   c.String("bridge-program-hash"),
		MockEnable:          c.Bool("mock-enable"),
		MockSnosFact:        c.String("mock-snos-fact"),
		MockBridgeFact:      c.String("mock-bridge-fact"),
		SettlementRPCURL:    c.String("settlement-rpc-url"),
		ConfirmTimeout:      c.Duration("confirm-timeout"),
		GasMarginPercent:    c.Uint64("gas-margin-percent"),
		SettleAttempts:      c.Int("settle-attempts"),
		SettleBackoff:       c.Duration("settle-backoff"),
		DAEnable:            c.Bool("da-enable"),
		CelestiaRPCURL:      c.String("celestia-rpc-url"),
		CelestiaToken:       c.String("celestia-token"),
		CelestiaNamespace:   c.String("celestia-namespace"),
		CelestiaKeyName:     c.String("celestia-key-name"),
		Kafka: kafka.ProducerConfig{
			Brokers:           c.String("kafka-brokers"),
			Topic:             c.String("kafka-topic"),
			ClientID:          c.String("kafka-client-id"),
			EnableLogs:        c.Bool("kafka-enable-logs"),
			NumPartitions:     c.Int("kafka-topic-num-partitions"),
			ReplicationFactor: c.Int("kafka-topic-replication-factor"),
			FlushTimeout:      kafka.DefaultFlushTimeout,
		},
		ClickHouseEnable:    c.Bool("clickhouse-enable"),
		SettlementTableName: c.String("settlement-table-name"),
		PruneInterval:       c.Duration("prune-interval"),
		GapWatchdogInterval: c.Duration("gap-watchdog-interval"),
		GapWatchdogMaxGap:   c.Uint64("gap-watchdog-max-gap"),
		MetricsHost:         c.String("metrics-host"),
		MetricsPort:         c.Int("metrics-port"),
		Environment:         c.String("environment"),
		Region:              c.String("region"),
		CloudProvider:       c.String("cloud-provider"),
	}

	var errs *multierror.Error

	mode, err := types.ParseMode(c.String("mode"))
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	cfg.Mode = mode

	if s := c.String("genesis-block"); s != "" {
		g, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid genesis block %q: %w", s, err))
		} else {
			cfg.Genesis = &g
		}
	}
	if c.IsSet("end-block") {
		end := c.Uint64("end-block")
		cfg.End = &end
	}

	if c.Bool("skip-fact-registration") {
		cfg.FactRegistration = onchain.FactRegistrationSkipped
	} else {
		cfg.FactRegistration = onchain.FactRegistrationIntegrity
	}
	if s := c.String("core-contract"); s != "" {
		if cfg.CoreContract, err = utils.ParseAddress(s); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("core-contract: %w", err))
		}
	}
	if s := c.String("fact-registry"); s != "" {
		if cfg.FactRegistry, err = utils.ParseAddress(s); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("fact-registry: %w", err))
		}
	}
	if s := c.String("private-key"); s != "" {
		if cfg.PrivateKey, err = utils.ParsePrivateKey(s); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if c.IsSet("chain-id") {
		cfg.ChainID = new(big.Int).SetUint64(c.Uint64("chain-id"))
	}
	for flag, h := range map[string]string{"snos-program-hash": cfg.SnosProgramHash, "bridge-program-hash": cfg.BridgeProgramHash} {
		if h == "" {
			continue
		}
		if _, err := utils.ParseHash(h); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", flag, err))
		}
	}

	if cfg.KafkaEnabled() {
		if cfg.Kafka.SASL, err = kafka.LoadSASLConfig(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if cfg.ClickHouseEnable {
		if cfg.ClickHouse, err = clickhouse.Load(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := cfg.validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the combinations the flags alone cannot express.
func (c *Config) validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if c.DBPath == "" {
		add("db-path must not be empty")
	}
	if c.Concurrency == 0 {
		add("concurrency must be greater than 0")
	}
	if c.MaxFailures <= 0 {
		add("max-failures must be greater than 0")
	}
	if c.HeadPollInterval <= 0 {
		add("head-poll-interval must be positive")
	}
	if c.HeadsCap <= 0 {
		add("heads-ch-capacity must be greater than 0")
	}
	if c.BlockCacheSize <= 0 {
		add("block-cache-size must be greater than 0")
	}
	if c.MaxSubmissions <= 0 {
		add("max-submissions must be greater than 0")
	}
	if c.SettleAttempts <= 0 {
		add("settle-attempts must be greater than 0")
	}
	if c.PruneInterval <= 0 {
		add("prune-interval must be positive")
	}
	if c.GapWatchdogInterval <= 0 {
		add("gap-watchdog-interval must be positive")
	}

	snosMocked := c.MockSnosFact != ""
	bridgeMocked := c.MockBridgeFact != ""
	if !snosMocked && c.PieGeneratorURL == "" {
		add("pie-generator-url is required unless the snos stage is mocked")
	}
	proverNeeded := !snosMocked || (c.Mode == types.ModePersistent && !bridgeMocked)
	if proverNeeded && c.ProverAPIKey == "" {
		add("prover-api-key is required unless every stage is mocked")
	}

	switch c.Mode {
	case types.ModePersistent:
		if c.RollupRPCURL == "" {
			add("rollup-rpc-url is required in persistent mode")
		}
		if !bridgeMocked && c.BridgeProgram == "" {
			add("bridge-program is required unless the layout bridge stage is mocked")
		}
		if c.SettlementRPCURL == "" {
			add("settlement-rpc-url is required in persistent mode")
		}
		if c.CoreContract == (common.Address{}) {
			add("core-contract is required in persistent mode")
		}
		if c.FactRegistration == onchain.FactRegistrationIntegrity && c.FactRegistry == (common.Address{}) {
			add("fact-registry is required unless skip-fact-registration is set")
		}
		if c.PrivateKey == nil {
			add("private-key is required in persistent mode")
		}
		if c.ChainID == nil || c.ChainID.Sign() == 0 {
			add("chain-id is required in persistent mode")
		}
	case types.ModeSovereign:
		if c.SovereignRPCURL == "" {
			add("sovereign-rpc-url is required in sovereign mode")
		}
	}

	if c.DAEnabled() {
		if c.CelestiaRPCURL == "" {
			add("celestia-rpc-url is required when blocks are published to Celestia")
		}
		if c.CelestiaNamespace == "" {
			add("celestia-namespace is required when blocks are published to Celestia")
		}
	}

	if c.KafkaEnabled() {
		if err := c.Kafka.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if c.ClickHouseEnable && c.SettlementTableName == "" {
		add("settlement-table-name must not be empty when clickhouse is enabled")
	}

	return errs.ErrorOrNil()
}

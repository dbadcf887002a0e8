package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/rollup-settler/pkg/kafka"
	"github.com/ava-labs/rollup-settler/pkg/prover/atlantic"
)

// storeFlags identify a pipeline's cursor and are shared by every command.
func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-path",
			Aliases: []string{"d"},
			Usage:   "Path of the bbolt file holding the pipeline cursor",
			EnvVars: []string{"DB_PATH"},
			Value:   "settler.db",
		},
		&cli.StringFlag{
			Name:     "pipeline-id",
			Aliases:  []string{"p"},
			Usage:    "Identifier of the pipeline; one cursor is kept per pipeline",
			EnvVars:  []string{"PIPELINE_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "Load the CLICKHOUSE_* and KAFKA_SASL_* variables from this file",
			EnvVars: []string{"ENV_FILE"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
	}
}

// runFlags returns all CLI flags for the settler run command
func runFlags() []cli.Flag {
	flags := storeFlags()
	flags = append(flags, coreFlags()...)
	flags = append(flags, proverFlags()...)
	flags = append(flags, mockFlags()...)
	flags = append(flags, settlementFlags()...)
	flags = append(flags, daFlags()...)
	flags = append(flags, sinkFlags()...)
	flags = append(flags, opsFlags()...)
	return flags
}

func coreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Settlement mode (persistent or sovereign)",
			EnvVars: []string{"MODE"},
			Value:   "persistent",
		},
		&cli.StringFlag{
			Name:    "rollup-rpc-url",
			Aliases: []string{"r"},
			Usage:   "JSON-RPC URL of the rollup (persistent mode)",
			EnvVars: []string{"ROLLUP_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "sovereign-rpc-url",
			Usage:   "JSON-RPC URL of the sovereign chain (sovereign mode)",
			EnvVars: []string{"SOVEREIGN_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "genesis-block",
			Usage:   "First block of a sovereign chain; required when no cursor exists yet",
			EnvVars: []string{"GENESIS_BLOCK"},
		},
		&cli.Uint64Flag{
			Name:    "end-block",
			Aliases: []string{"e"},
			Usage:   "Stop once this block is settled. If not specified, follows the head forever",
			EnvVars: []string{"END_BLOCK"},
		},
		&cli.Uint64Flag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Maximum number of blocks between fetch and settlement",
			EnvVars: []string{"CONCURRENCY"},
			Value:   4,
		},
		&cli.IntFlag{
			Name:    "max-failures",
			Aliases: []string{"f"},
			Usage:   "Failed attempts of one block before the pipeline stops",
			EnvVars: []string{"MAX_FAILURES"},
			Value:   3,
		},
		&cli.DurationFlag{
			Name:    "retry-backoff",
			Usage:   "Delay before a failed block is dispatched again",
			EnvVars: []string{"RETRY_BACKOFF"},
			Value:   5 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "idle-backoff",
			Usage:   "Delay before a block that is not produced yet is fetched again",
			EnvVars: []string{"IDLE_BACKOFF"},
			Value:   5 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "head-poll-interval",
			Usage:   "Interval between chain head polls",
			EnvVars: []string{"HEAD_POLL_INTERVAL"},
			Value:   5 * time.Second,
		},
		&cli.IntFlag{
			Name:    "heads-ch-capacity",
			Usage:   "Capacity of the channel feeding new heads to the scheduler",
			EnvVars: []string{"HEADS_CH_CAPACITY"},
			Value:   16,
		},
		&cli.IntFlag{
			Name:    "block-cache-size",
			Usage:   "Number of fetched blocks kept in memory for retries",
			EnvVars: []string{"BLOCK_CACHE_SIZE"},
			Value:   64,
		},
		&cli.DurationFlag{
			Name:    "rpc-call-timeout",
			Usage:   "Timeout of a single block source RPC call",
			EnvVars: []string{"RPC_CALL_TIMEOUT"},
			Value:   30 * time.Second,
		},
	}
}

func proverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "prover-url",
			Usage:   "Base URL of the Atlantic prover API",
			EnvVars: []string{"PROVER_URL"},
			Value:   atlantic.DefaultBaseURL,
		},
		&cli.StringFlag{
			Name:    "prover-api-key",
			Usage:   "API key of the Atlantic prover",
			EnvVars: []string{"PROVER_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "prover-proof-url",
			Usage:   "Base URL proofs are downloaded from",
			EnvVars: []string{"PROVER_PROOF_URL"},
			Value:   atlantic.DefaultProofBaseURL,
		},
		&cli.DurationFlag{
			Name:    "prover-http-timeout",
			Usage:   "Timeout of a single prover HTTP request",
			EnvVars: []string{"PROVER_HTTP_TIMEOUT"},
			Value:   atlantic.DefaultHTTPTimeout,
		},
		&cli.Float64Flag{
			Name:    "prover-rate-limit",
			Usage:   "Maximum prover status polls per second across all jobs (0 disables the limit)",
			EnvVars: []string{"PROVER_RATE_LIMIT"},
			Value:   2,
		},
		&cli.DurationFlag{
			Name:    "poll-initial",
			Usage:   "First interval between status polls of a proof job",
			EnvVars: []string{"POLL_INITIAL"},
			Value:   10 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "poll-ceiling",
			Usage:   "Maximum interval between status polls of a proof job",
			EnvVars: []string{"POLL_CEILING"},
			Value:   2 * time.Minute,
		},
		&cli.DurationFlag{
			Name:    "poll-max-wait",
			Usage:   "Total wait for one proof job before it is resubmitted",
			EnvVars: []string{"POLL_MAX_WAIT"},
			Value:   4 * time.Hour,
		},
		&cli.IntFlag{
			Name:    "max-submissions",
			Usage:   "Submissions of a timing-out stage before the block is declared stuck",
			EnvVars: []string{"MAX_SUBMISSIONS"},
			Value:   3,
		},
		&cli.StringFlag{
			Name:    "pie-generator-url",
			Usage:   "Base URL of the PIE generator service",
			EnvVars: []string{"PIE_GENERATOR_URL"},
		},
		&cli.DurationFlag{
			Name:    "pie-generator-timeout",
			Usage:   "Timeout of a single PIE generation request",
			EnvVars: []string{"PIE_GENERATOR_TIMEOUT"},
			Value:   5 * time.Minute,
		},
		&cli.StringFlag{
			Name:    "snos-program",
			Usage:   "Path of the compiled SNOS program the PIE generator runs",
			EnvVars: []string{"SNOS_PROGRAM"},
		},
		&cli.StringFlag{
			Name:    "snos-program-hash",
			Usage:   "Expected keccak256 of the SNOS program",
			EnvVars: []string{"SNOS_PROGRAM_HASH"},
		},
		&cli.StringFlag{
			Name:    "bridge-program",
			Usage:   "Path of the compiled layout bridge program",
			EnvVars: []string{"BRIDGE_PROGRAM"},
		},
		&cli.StringFlag{
			Name:    "bridge-program-hash",
			Usage:   "Expected keccak256 of the layout bridge program",
			EnvVars: []string{"BRIDGE_PROGRAM_HASH"},
		},
	}
}

func mockFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "mock-enable",
			Usage:   "Allow mock facts to replace prover calls (refused in production)",
			EnvVars: []string{"MOCK_ENABLE"},
		},
		&cli.StringFlag{
			Name:    "mock-snos-fact",
			Usage:   "Fact used instead of proving the SNOS stage",
			EnvVars: []string{"MOCK_SNOS_FACT"},
		},
		&cli.StringFlag{
			Name:    "mock-bridge-fact",
			Usage:   "Fact used instead of proving the layout bridge stage",
			EnvVars: []string{"MOCK_BRIDGE_FACT"},
		},
	}
}

func settlementFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "settlement-rpc-url",
			Usage:   "JSON-RPC URL of the settlement chain (persistent mode)",
			EnvVars: []string{"SETTLEMENT_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "core-contract",
			Usage:   "Address of the settlement core contract",
			EnvVars: []string{"CORE_CONTRACT"},
		},
		&cli.StringFlag{
			Name:    "fact-registry",
			Usage:   "Address of the fact registry verifying layout bridge proofs",
			EnvVars: []string{"FACT_REGISTRY"},
		},
		&cli.BoolFlag{
			Name:    "skip-fact-registration",
			Usage:   "Send the program output to the core contract without verifying the proof first",
			EnvVars: []string{"SKIP_FACT_REGISTRATION"},
		},
		&cli.StringFlag{
			Name:    "private-key",
			Usage:   "Hex-encoded key signing settlement transactions",
			EnvVars: []string{"PRIVATE_KEY"},
		},
		&cli.Uint64Flag{
			Name:    "chain-id",
			Usage:   "Chain ID of the settlement chain",
			EnvVars: []string{"CHAIN_ID"},
		},
		&cli.DurationFlag{
			Name:    "confirm-timeout",
			Usage:   "Wait for a settlement transaction receipt before it counts as failed",
			EnvVars: []string{"CONFIRM_TIMEOUT"},
			Value:   5 * time.Minute,
		},
		&cli.Uint64Flag{
			Name:    "gas-margin-percent",
			Usage:   "Percentage added to the gas estimate of settlement transactions",
			EnvVars: []string{"GAS_MARGIN_PERCENT"},
			Value:   20,
		},
		&cli.IntFlag{
			Name:    "settle-attempts",
			Usage:   "Attempts of a settlement call, the first one included, while failures are retryable",
			EnvVars: []string{"SETTLE_ATTEMPTS"},
			Value:   4,
		},
		&cli.DurationFlag{
			Name:    "settle-backoff",
			Usage:   "Initial delay between settlement attempts; doubles every attempt",
			EnvVars: []string{"SETTLE_BACKOFF"},
			Value:   3 * time.Second,
		},
	}
}

func daFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "da-enable",
			Usage:   "Publish every block to Celestia before the state update (persistent mode)",
			EnvVars: []string{"DA_ENABLE"},
		},
		&cli.StringFlag{
			Name:    "celestia-rpc-url",
			Usage:   "JSON-RPC URL of the Celestia node",
			EnvVars: []string{"CELESTIA_RPC_URL"},
		},
		&cli.StringFlag{
			Name:    "celestia-token",
			Usage:   "Auth token of the Celestia node",
			EnvVars: []string{"CELESTIA_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "celestia-namespace",
			Usage:   "Namespace blobs are published under (at most 10 bytes)",
			EnvVars: []string{"CELESTIA_NAMESPACE"},
		},
		&cli.StringFlag{
			Name:    "celestia-key-name",
			Usage:   "Node key signing blob transactions (the node default when empty)",
			EnvVars: []string{"CELESTIA_KEY_NAME"},
		},
	}
}

func sinkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers settlement events are produced to (comma-separated). Events are disabled when empty",
			EnvVars: []string{"KAFKA_BROKERS"},
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Aliases: []string{"t"},
			Usage:   "The Kafka topic settlement events are produced to",
			EnvVars: []string{"KAFKA_TOPIC"},
			Value:   kafka.DefaultTopic,
		},
		&cli.BoolFlag{
			Name:    "kafka-enable-logs",
			Aliases: []string{"l"},
			Usage:   "Enable Kafka client logs",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
		},
		&cli.StringFlag{
			Name:    "kafka-client-id",
			Usage:   "The Kafka client ID to use",
			EnvVars: []string{"KAFKA_CLIENT_ID"},
			Value:   "settler",
		},
		&cli.IntFlag{
			Name:    "kafka-topic-num-partitions",
			Usage:   "Number of partitions when the topic is created",
			EnvVars: []string{"KAFKA_TOPIC_NUM_PARTITIONS"},
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "kafka-topic-replication-factor",
			Usage:   "Replication factor when the topic is created",
			EnvVars: []string{"KAFKA_TOPIC_REPLICATION_FACTOR"},
			Value:   1,
		},
		&cli.BoolFlag{
			Name:    "clickhouse-enable",
			Usage:   "Mirror settlement records to ClickHouse (connection read from CLICKHOUSE_* variables)",
			EnvVars: []string{"CLICKHOUSE_ENABLE"},
		},
		&cli.StringFlag{
			Name:    "settlement-table-name",
			Aliases: []string{"T"},
			Usage:   "The ClickHouse table settlement records are mirrored to",
			EnvVars: []string{"SETTLEMENT_TABLE_NAME"},
			Value:   "settlements",
		},
	}
}

func opsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "prune-interval",
			Usage:   "Interval between removals of stage artifacts of settled blocks",
			EnvVars: []string{"PRUNE_INTERVAL"},
			Value:   time.Minute,
		},
		&cli.DurationFlag{
			Name:    "gap-watchdog-interval",
			Usage:   "Interval between settlement lag checks",
			EnvVars: []string{"GAP_WATCHDOG_INTERVAL"},
			Value:   15 * time.Minute,
		},
		&cli.Uint64Flag{
			Name:    "gap-watchdog-max-gap",
			Usage:   "Blocks between head and settled tip before a warning is logged",
			EnvVars: []string{"GAP_WATCHDOG_MAX_GAP"},
			Value:   100,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'oci', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
			Value:   "",
		},
	}
}

// removeFlags returns the flags of the remove command.
func removeFlags() []cli.Flag {
	flags := storeFlags()
	return append(flags,
		&cli.BoolFlag{
			Name:    "clickhouse-enable",
			Usage:   "Also delete the pipeline's mirrored records from ClickHouse",
			EnvVars: []string{"CLICKHOUSE_ENABLE"},
		},
		&cli.StringFlag{
			Name:    "settlement-table-name",
			Aliases: []string{"T"},
			Usage:   "The ClickHouse table settlement records are mirrored to",
			EnvVars: []string{"SETTLEMENT_TABLE_NAME"},
			Value:   "settlements",
		},
	)
}

// failedFlags returns the flags of the failed subcommands.
func failedFlags() []cli.Flag {
	flags := storeFlags()
	return append(flags,
		&cli.Uint64Flag{
			Name:    "block",
			Aliases: []string{"b"},
			Usage:   "Block number to acknowledge",
		},
		&cli.BoolFlag{
			Name:    "all",
			Aliases: []string{"a"},
			Usage:   "list: include acknowledged blocks; ack: acknowledge every unhandled block",
		},
	)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ava-labs/libevm/ethclient"
	"github.com/ava-labs/libevm/rpc"
	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/rollup-settler/pkg/blocksource"
	"github.com/ava-labs/rollup-settler/pkg/checkpointer"
	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
	"github.com/ava-labs/rollup-settler/pkg/data/bolt/cursor"
	chsettlement "github.com/ava-labs/rollup-settler/pkg/data/clickhouse/settlement"
	"github.com/ava-labs/rollup-settler/pkg/kafka"
	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/mock"
	"github.com/ava-labs/rollup-settler/pkg/prover"
	"github.com/ava-labs/rollup-settler/pkg/prover/atlantic"
	"github.com/ava-labs/rollup-settler/pkg/scheduler"
	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/settlement/da"
	"github.com/ava-labs/rollup-settler/pkg/settlement/onchain"
	"github.com/ava-labs/rollup-settler/pkg/slidingwindow"
	"github.com/ava-labs/rollup-settler/pkg/slidingwindow/subscriber"
	"github.com/ava-labs/rollup-settler/pkg/slidingwindow/worker"
	"github.com/ava-labs/rollup-settler/pkg/stage"
	"github.com/ava-labs/rollup-settler/pkg/types"
	"github.com/ava-labs/rollup-settler/pkg/utils"
)

const metricsShutdownTimeout = 5 * time.Second

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"pipelineID", cfg.PipelineID,
		"mode", cfg.Mode,
		"dbPath", cfg.DBPath,
		"rollupRPCURL", cfg.RollupRPCURL,
		"sovereignRPCURL", cfg.SovereignRPCURL,
		"genesis", cfg.Genesis,
		"end", cfg.End,
		"concurrency", cfg.Concurrency,
		"maxFailures", cfg.MaxFailures,
		"retryBackoff", cfg.RetryBackoff,
		"idleBackoff", cfg.IdleBackoff,
		"headPollInterval", cfg.HeadPollInterval,
		"blockCacheSize", cfg.BlockCacheSize,
		"proverURL", cfg.ProverURL,
		"proverRateLimit", cfg.ProverRateLimit,
		"pollInitial", cfg.PollInitial,
		"pollCeiling", cfg.PollCeiling,
		"pollMaxWait", cfg.PollMaxWait,
		"maxSubmissions", cfg.MaxSubmissions,
		"pieGeneratorURL", cfg.PieGeneratorURL,
		"mockEnable", cfg.MockEnable,
		"settlementRPCURL", cfg.SettlementRPCURL,
		"coreContract", cfg.CoreContract,
		"factRegistration", cfg.FactRegistration,
		"chainID", cfg.ChainID,
		"settleAttempts", cfg.SettleAttempts,
		"daEnabled", cfg.DAEnabled(),
		"celestiaRPCURL", cfg.CelestiaRPCURL,
		"celestiaNamespace", cfg.CelestiaNamespace,
		"kafkaBrokers", cfg.Kafka.Brokers,
		"kafkaTopic", cfg.Kafka.Topic,
		"clickhouseEnable", cfg.ClickHouseEnable,
		"clickhouseCluster", cfg.ClickHouse.Cluster,
		"clickhouseDatabase", cfg.ClickHouse.Database,
		"settlementTableName", cfg.SettlementTableName,
		"pruneInterval", cfg.PruneInterval,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	mockCtl, err := buildMockController(cfg)
	if err != nil {
		return err
	}
	if mockCtl.Active() {
		sugar.Warnw("mock mode active: mocked stages are never sent to the prover",
			"snosFact", cfg.MockSnosFact,
			"bridgeFact", cfg.MockBridgeFact,
		)
	}

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		PipelineID:    cfg.PipelineID,
		Mode:          string(cfg.Mode),
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cursor.Open(cfg.DBPath, cfg.PipelineID, sugar)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer store.Close()

	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize cursor store: %w", err)
	}
	rec, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	sugar.Infow("cursor loaded",
		"hasSettled", rec.HasSettled,
		"lastSettled", rec.LastSettled,
		"inProgress", rec.InProgress,
	)

	src, sovereign, closeSource, err := buildSource(ctx, cfg, sugar, m)
	if err != nil {
		return err
	}
	defer closeSource()

	cached, err := blocksource.NewCached(src, cfg.BlockCacheSize)
	if err != nil {
		return err
	}

	runner, err := buildRunner(cfg, mockCtl, sugar, m)
	if err != nil {
		return err
	}

	backend, closeBackend, err := buildBackend(ctx, cfg, store, sugar, m)
	if err != nil {
		return err
	}
	defer closeBackend()

	start, err := startBlock(ctx, rec, backend, sovereign)
	if err != nil {
		return err
	}
	sugar.Infof("start block height: %d", start)
	if cfg.End != nil {
		sugar.Infof("end block height: %d", *cfg.End)
	} else {
		sugar.Infof("end block height: not specified, will follow the head")
	}

	// Settlement sinks
	sinks := []settlement.Sink{cacheEvictor{cache: cached}}

	if cfg.ClickHouseEnable {
		chClient, err := clickhouse.New(cfg.ClickHouse, sugar)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer chClient.Close()

		repo, err := chsettlement.NewRepository(ctx, chClient, cfg.PipelineID, cfg.ClickHouse.Cluster, cfg.ClickHouse.Database, cfg.SettlementTableName)
		if err != nil {
			return fmt.Errorf("failed to create settlement repository: %w", err)
		}
		if latest, err := repo.Latest(ctx); err != nil {
			sugar.Warnw("failed to read latest mirrored settlement", "error", err)
		} else if latest != nil && latest.BlockNumber+1 < start {
			sugar.Warnw("settlement mirror is behind the cursor; earlier records will not be backfilled",
				"mirrored", latest.BlockNumber,
				"start", start,
			)
		}
		sinks = append(sinks, chsettlement.NewSink(repo))
		sugar.Info("ClickHouse settlement mirror enabled")
	}

	var producer *kafka.Producer
	if cfg.KafkaEnabled() {
		if err := ensureTopic(ctx, cfg.Kafka, sugar); err != nil {
			return err
		}
		producer, err = kafka.NewProducer(ctx, cfg.Kafka.ConfigMap(), sugar)
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close(cfg.Kafka.FlushTimeout)

		kafkaSink, err := kafka.NewSettlementSink(producer, cfg.Kafka.Topic, cfg.PipelineID)
		if err != nil {
			return fmt.Errorf("failed to create kafka settlement sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
		sugar.Info("Kafka settlement events enabled")
	}

	cpCfg := checkpointer.DefaultConfig()

	w, err := worker.NewProvingWorker(cached, store, runner, mockCtl, cfg.Mode, cpCfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	s := slidingwindow.NewState(start)

	mgrCfg := slidingwindow.DefaultConfig()
	mgrCfg.Concurrency = cfg.Concurrency
	mgrCfg.MaxFailures = cfg.MaxFailures
	mgrCfg.RetryBackoff = cfg.RetryBackoff
	mgrCfg.IdleBackoff = cfg.IdleBackoff
	mgrCfg.HeightChanCapacity = cfg.HeadsCap
	mgrCfg.EndHeight = cfg.End
	mgrCfg.Settle = settlement.RetryPolicy{
		Attempts:   cfg.SettleAttempts,
		Backoff:    cfg.SettleBackoff,
		MaxBackoff: settlement.DefaultRetryPolicy().MaxBackoff,
	}
	mgrCfg.Checkpoint = cpCfg

	mgr, err := slidingwindow.NewManager(sugar, s, w, backend, store, settlement.NewSinks(sugar, m, sinks...), m, mgrCfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	poller, err := subscriber.NewPoller(sugar, cached, cfg.HeadPollInterval)
	if err != nil {
		return fmt.Errorf("failed to create head poller: %w", err)
	}

	// Initialize window metrics with starting state
	m.UpdateWindowMetrics(start, start, 0, 0)

	// Start metrics server; ready once the cursor store answers
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, func(ctx context.Context) error {
		_, _, err := store.HighestSettled(ctx)
		return err
	})
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	// The manager returning nil means the end block is settled; cancel the rest.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return poller.Subscribe(gctx, mgr)
	})
	g.Go(func() error {
		err := mgr.Run(gctx)
		if err == nil && cfg.End != nil {
			sugar.Infow("end block settled", "end", *cfg.End)
			cancelRun()
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})
	if producer != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case err := <-producer.Errors():
				return err
			}
		})
	}
	g.Go(func() error {
		return scheduler.Start(gctx, s, store, cfg.PruneInterval, cpCfg, sugar, m)
	})

	go slidingwindow.StartGapWatchdog(gctx, sugar, s, cfg.GapWatchdogInterval, cfg.GapWatchdogMaxGap)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("run failed", "error", err, "lowest", s.GetLowest())
	}

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("metrics server shutdown error", "error", err)
	}

	sugar.Info("shutdown complete")
	return err
}

func buildMockController(cfg *Config) (*mock.Controller, error) {
	ctl := mock.NewController(cfg.MockEnable)
	if cfg.MockSnosFact != "" {
		if err := ctl.SetFactHex(types.StageSnos, cfg.MockSnosFact); err != nil {
			return nil, fmt.Errorf("mock-snos-fact: %w", err)
		}
	}
	if cfg.MockBridgeFact != "" {
		if err := ctl.SetFactHex(types.StageLayoutBridge, cfg.MockBridgeFact); err != nil {
			return nil, fmt.Errorf("mock-bridge-fact: %w", err)
		}
	}
	if err := ctl.Validate(cfg.Environment); err != nil {
		return nil, fmt.Errorf("refusing to start: %w", err)
	}
	return ctl, nil
}

// buildSource dials the chain blocks are read from. sovereign is nil in persistent mode.
func buildSource(
	ctx context.Context,
	cfg *Config,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (blocksource.Source, *blocksource.Sovereign, func(), error) {
	srcCfg := blocksource.Config{
		Retry:       blocksource.DefaultRetry(),
		CallTimeout: cfg.RPCCallTimeout,
	}

	url := cfg.RollupRPCURL
	if cfg.Mode == types.ModeSovereign {
		url = cfg.SovereignRPCURL
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	if cfg.Mode == types.ModeSovereign {
		src, err := blocksource.NewSovereign(client, srcCfg, cfg.Genesis, log, m)
		if err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to create sovereign source: %w", err)
		}
		return src, src, client.Close, nil
	}

	src, err := blocksource.NewPersistent(client, srcCfg, log, m)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to create rollup source: %w", err)
	}
	return src, nil, client.Close, nil
}

func buildRunner(cfg *Config, mockCtl *mock.Controller, log *zap.SugaredLogger, m *metrics.Metrics) (*stage.Runner, error) {
	builders := make(map[types.StageKind]stage.InputBuilder)

	if cfg.SnosProgram != "" {
		p, err := stage.LoadProgram(cfg.SnosProgram, cfg.SnosProgramHash)
		if err != nil {
			return nil, err
		}
		log.Infow("snos program verified", "path", p.Path, "hash", p.Hash)
	}
	if cfg.PieGeneratorURL != "" {
		gen, err := stage.NewHTTPPieGenerator(cfg.PieGeneratorURL, cfg.PieGeneratorTimeout)
		if err != nil {
			return nil, err
		}
		builders[types.StageSnos] = stage.NewSnosInputBuilder(gen)
	}
	if cfg.Mode == types.ModePersistent && cfg.BridgeProgram != "" {
		p, err := stage.LoadProgram(cfg.BridgeProgram, cfg.BridgeProgramHash)
		if err != nil {
			return nil, err
		}
		b, err := stage.NewBridgeInputBuilder(p)
		if err != nil {
			return nil, err
		}
		builders[types.StageLayoutBridge] = b
		log.Infow("layout bridge program verified", "path", p.Path, "hash", p.Hash)
	}

	var client prover.Client
	var awaiter stage.Awaiter
	if cfg.ProverAPIKey != "" {
		ac, err := atlantic.New(atlantic.Config{
			BaseURL:      cfg.ProverURL,
			ProofBaseURL: cfg.ProverProofURL,
			APIKey:       cfg.ProverAPIKey,
			HTTPTimeout:  cfg.ProverHTTPTimeout,
		}, log, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create prover client: %w", err)
		}
		client = ac
		awaiter = prover.NewPoller(ac, prover.Policy{
			Initial:    cfg.PollInitial,
			Ceiling:    cfg.PollCeiling,
			Multiplier: prover.DefaultPolicy().Multiplier,
			MaxWait:    cfg.PollMaxWait,
		}, cfg.ProverRateLimit, log, m)
	}

	runCfg := stage.DefaultConfig()
	runCfg.MaxSubmissions = cfg.MaxSubmissions
	runner, err := stage.NewRunner(runCfg, client, awaiter, mockCtl, builders, stage.MetricsObserver{Log: log, Metrics: m}, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage runner: %w", err)
	}
	return runner, nil
}

// buildBackend wires the settlement backend of cfg.Mode. The returned func closes its clients.
func buildBackend(
	ctx context.Context,
	cfg *Config,
	store da.PointerStore,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) (settlement.Backend, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var daBackend settlement.Backend
	if cfg.DAEnabled() {
		client, err := da.DialCelestia(ctx, cfg.CelestiaRPCURL, cfg.CelestiaToken)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, client.Close)

		publisher, err := da.NewCelestia(client, cfg.CelestiaKeyName, log, m)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create celestia publisher: %w", err)
		}
		b, err := da.NewBackend(publisher, store, cfg.CelestiaNamespace, log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create da backend: %w", err)
		}
		daBackend = b
	}

	if cfg.Mode == types.ModeSovereign {
		return daBackend, closeAll, nil
	}

	chain, err := ethclient.DialContext(ctx, cfg.SettlementRPCURL)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to dial settlement rpc: %w", err)
	}
	closers = append(closers, chain.Close)

	onCfg := onchain.DefaultConfig()
	onCfg.Contract = cfg.CoreContract
	onCfg.FactRegistry = cfg.FactRegistry
	onCfg.ChainID = cfg.ChainID
	onCfg.FactRegistration = cfg.FactRegistration
	onCfg.ConfirmTimeout = cfg.ConfirmTimeout
	onCfg.GasMarginPercent = cfg.GasMarginPercent

	b, err := onchain.New(chain, onCfg, cfg.PrivateKey, daBackend, log, m)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create settlement backend: %w", err)
	}
	return b, closeAll, nil
}

// startBlock is the first block to settle. The cursor wins when it has settled anything; otherwise
// persistent pipelines resume after the block the contract reports and sovereign pipelines start
// at genesis.
func startBlock(ctx context.Context, rec types.CursorRecord, backend settlement.Backend, sovereign *blocksource.Sovereign) (uint64, error) {
	if sovereign != nil {
		n, err := sovereign.StartBlock(rec.HasSettled, rec.LastSettled)
		if err != nil {
			return 0, fmt.Errorf("failed to determine start block: %w", err)
		}
		return n, nil
	}
	if rec.HasSettled {
		return rec.Next(0), nil
	}
	last, ok, err := backend.LastSettled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read settled state from contract: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return last + 1, nil
}

func ensureTopic(ctx context.Context, cfg kafka.ProducerConfig, log *zap.SugaredLogger) error {
	admin, err := confluentKafka.NewAdminClient(cfg.AdminConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()

	if err := kafka.EnsureTopic(ctx, admin, cfg.TopicConfig(), log); err != nil {
		return fmt.Errorf("failed to ensure kafka topic exists: %w", err)
	}
	return nil
}

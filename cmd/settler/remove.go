package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
	"github.com/ava-labs/rollup-settler/pkg/data/bolt/cursor"
	chsettlement "github.com/ava-labs/rollup-settler/pkg/data/clickhouse/settlement"
	"github.com/ava-labs/rollup-settler/pkg/utils"
)

func remove(c *cli.Context) error {
	ctx := c.Context
	if err := loadEnvFile(c); err != nil {
		return err
	}
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	pipelineID := c.String("pipeline-id")

	if c.Bool("clickhouse-enable") {
		chCfg, err := clickhouse.Load()
		if err != nil {
			return err
		}
		chClient, err := clickhouse.New(chCfg, sugar)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer chClient.Close()

		repo, err := chsettlement.NewRepository(ctx, chClient, pipelineID, chCfg.Cluster, chCfg.Database, c.String("settlement-table-name"))
		if err != nil {
			return fmt.Errorf("failed to create settlement repository: %w", err)
		}
		if err := repo.DeleteRecords(ctx); err != nil {
			return fmt.Errorf("failed to delete settlement records: %w", err)
		}
		sugar.Infof("settlement records successfully removed for pipeline %s", pipelineID)
	}

	store, err := cursor.Open(c.String("db-path"), pipelineID, sugar)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer store.Close()

	if err := store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}

	sugar.Infof("cursor successfully removed for pipeline %s", pipelineID)
	return nil
}

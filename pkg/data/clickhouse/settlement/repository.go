package settlement

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"

	"github.com/ava-labs/rollup-settler/pkg/clickhouse"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

//go:embed queries/create-table-local.sql
var createTableLocalQuery string

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/write-record.sql
var writeRecordQuery string

//go:embed queries/read-latest.sql
var readLatestQuery string

//go:embed queries/delete-records.sql
var deleteRecordsQuery string

// Repository mirrors settlement records of one pipeline into ClickHouse. The cursor store stays
// the source of truth; this table exists for dashboards and ad-hoc queries.
type Repository interface {
	Initialize(ctx context.Context) error
	WriteRecord(ctx context.Context, rec types.SettlementRecord) error
	// Latest returns the highest mirrored record, or nil when the pipeline has none.
	Latest(ctx context.Context) (*types.SettlementRecord, error)
	DeleteRecords(ctx context.Context) error
}

var _ Repository = (*repository)(nil)

type repository struct {
	client     clickhouse.Client
	pipelineID string
	cluster    string
	database   string
	tableName  string
}

// NewRepository creates the table if needed. With a cluster name the records go to a local
// ReplacingMergeTree on every node behind a Distributed table; without one a single table is used.
func NewRepository(
	ctx context.Context,
	client clickhouse.Client,
	pipelineID, cluster, database, tableName string,
) (Repository, error) {
	if client == nil {
		return nil, errors.New("invalid clickhouse client: must not be nil")
	}
	if pipelineID == "" {
		return nil, errors.New("invalid pipeline id: must not be empty")
	}
	if tableName == "" {
		return nil, errors.New("invalid table name: must not be empty")
	}
	repo := &repository{
		client:     client,
		pipelineID: pipelineID,
		cluster:    cluster,
		database:   database,
		tableName:  tableName,
	}
	if err := repo.Initialize(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *repository) localTable() string {
	if r.cluster == "" {
		return r.tableName
	}
	return r.tableName + "_local"
}

func (r *repository) onCluster() string {
	if r.cluster == "" {
		return ""
	}
	return "ON CLUSTER " + r.cluster
}

// Initialize ensures the settlements table exists.
// Rows are keyed by (pipeline_id, block_number); a re-delivered record replaces the older row.
func (r *repository) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(createTableLocalQuery, r.database, r.localTable(), r.onCluster())
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create settlements local table: %w", err)
	}
	if r.cluster == "" {
		return nil
	}

	query = fmt.Sprintf(createTableQuery,
		r.database, r.tableName, r.onCluster(),
		r.database, r.localTable(),
		r.cluster, r.database, r.localTable(),
	)
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create settlements table: %w", err)
	}
	return nil
}

func (r *repository) WriteRecord(ctx context.Context, rec types.SettlementRecord) error {
	var (
		daHeight     *uint64
		daCommitment *string
	)
	if rec.DA != nil {
		h := rec.DA.Height
		c := common.Bytes2Hex(rec.DA.Commitment[:])
		daHeight, daCommitment = &h, &c
	}

	query := fmt.Sprintf(writeRecordQuery, r.database, r.tableName)
	err := r.client.Conn().Exec(ctx, query,
		r.pipelineID,
		rec.BlockNumber,
		string(rec.Mode),
		hashString(rec.TxHash),
		hashString(rec.StateRoot),
		daHeight,
		daCommitment,
		rec.Namespace,
		rec.Recovered,
		rec.SettledAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write settlement record %d: %w", rec.BlockNumber, err)
	}
	return nil
}

func (r *repository) Latest(ctx context.Context) (*types.SettlementRecord, error) {
	var (
		rec          types.SettlementRecord
		mode         string
		txHash       *string
		stateRoot    *string
		daHeight     *uint64
		daCommitment *string
		settledAt    time.Time
	)
	query := fmt.Sprintf(readLatestQuery, r.database, r.tableName)
	err := r.client.Conn().
		QueryRow(ctx, query, r.pipelineID).
		Scan(&rec.BlockNumber, &mode, &txHash, &stateRoot, &daHeight, &daCommitment, &rec.Namespace, &rec.Recovered, &settledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest settlement record: %w", err)
	}

	rec.Mode = types.Mode(mode)
	rec.SettledAt = settledAt
	rec.TxHash = parseHash(txHash)
	rec.StateRoot = parseHash(stateRoot)
	if daHeight != nil && daCommitment != nil {
		ptr := &types.DAPointer{Height: *daHeight}
		copy(ptr.Commitment[:], common.FromHex(*daCommitment))
		rec.DA = ptr
	}
	return &rec, nil
}

// DeleteRecords drops every mirrored record of the pipeline.
func (r *repository) DeleteRecords(ctx context.Context) error {
	query := fmt.Sprintf(deleteRecordsQuery, r.database, r.localTable(), r.onCluster())
	if err := r.client.Conn().Exec(ctx, query, r.pipelineID); err != nil {
		return fmt.Errorf("failed to delete settlement records: %w", err)
	}
	return nil
}

func hashString(h *common.Hash) *string {
	if h == nil {
		return nil
	}
	s := h.Hex()
	return &s
}

func parseHash(s *string) *common.Hash {
	if s == nil {
		return nil
	}
	h := common.HexToHash(*s)
	return &h
}

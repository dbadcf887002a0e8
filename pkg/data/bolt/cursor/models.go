package cursor

import (
	"encoding/binary"
	"time"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Bucket layout of one pipeline:
//
//	<pipelineID>/
//	  meta/        last_settled -> uint64
//	  fetched/     n -> unix nanos
//	  stages/      n|kind -> StageResult (json)
//	  settlements/ n -> SettlementRecord (json)
//	  failed/      n -> FailedBlock (json)
var (
	metaBucket        = []byte("meta")
	fetchedBucket     = []byte("fetched")
	stagesBucket      = []byte("stages")
	settlementsBucket = []byte("settlements")
	failedBucket      = []byte("failed")

	lastSettledKey = []byte("last_settled")
)

var childBuckets = [][]byte{metaBucket, fetchedBucket, stagesBucket, settlementsBucket, failedBucket}

func blockKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func decodeBlockKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[:8])
}

func stageKey(n uint64, kind types.StageKind) []byte {
	return append(blockKey(n), string(kind)...)
}

func fetchedValue(t time.Time) []byte {
	return blockKey(uint64(t.UnixNano()))
}

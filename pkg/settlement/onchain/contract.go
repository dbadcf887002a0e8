// Package onchain settles blocks by updating the rollup state on the settlement chain.
package onchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ava-labs/libevm"
	"github.com/ava-labs/libevm/accounts/abi"
	"github.com/ava-labs/libevm/accounts/abi/bind"
	"github.com/ava-labs/libevm/common"
	"github.com/ava-labs/libevm/common/math"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

const contractABI = `[
	{"type":"function","name":"getState","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"stateRoot","type":"bytes32"},{"name":"blockNumber","type":"uint256"},{"name":"blockHash","type":"bytes32"}]},
	{"type":"function","name":"updateState","stateMutability":"nonpayable",
	 "inputs":[{"name":"programOutput","type":"bytes"},{"name":"daHeight","type":"uint64"},{"name":"daCommitment","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"verifyProof","stateMutability":"nonpayable",
	 "inputs":[{"name":"proof","type":"bytes"}],"outputs":[]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("invalid settlement contract abi: %v", err))
	}
	return parsed
}

// Chain is the subset of *ethclient.Client the backend needs.
type Chain interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// State is what the settlement contract reports.
type State struct {
	StateRoot   common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	// Settled is false while the contract holds the "no block" sentinel.
	Settled bool
}

func getState(ctx context.Context, chain ethereum.ContractCaller, contract common.Address) (State, error) {
	data, err := parsedABI.Pack("getState")
	if err != nil {
		return State{}, err
	}
	raw, err := chain.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return State{}, fmt.Errorf("getState call failed: %w", err)
	}
	out, err := parsedABI.Unpack("getState", raw)
	if err != nil {
		return State{}, fmt.Errorf("failed to decode getState result: %w", err)
	}
	if len(out) != 3 {
		return State{}, fmt.Errorf("getState returned %d values", len(out))
	}
	root, ok1 := out[0].([32]byte)
	number, ok2 := out[1].(*big.Int)
	hash, ok3 := out[2].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return State{}, errors.New("getState returned unexpected types")
	}

	st := State{StateRoot: root, BlockHash: hash}
	if number.Cmp(math.MaxBig256) == 0 {
		return st, nil
	}
	if !number.IsUint64() {
		return State{}, fmt.Errorf("getState block number %s overflows uint64", number)
	}
	st.BlockNumber = number.Uint64()
	st.Settled = true
	return st, nil
}

func packUpdateState(output []byte, ptr *types.DAPointer) ([]byte, error) {
	var (
		height     uint64
		commitment [32]byte
	)
	if ptr != nil {
		height = ptr.Height
		commitment = ptr.Commitment
	}
	return parsedABI.Pack("updateState", output, height, commitment)
}

func packVerifyProof(proof []byte) ([]byte, error) {
	return parsedABI.Pack("verifyProof", proof)
}

// bridgeOutput is the part of a layout-bridge proof the contract consumes.
type bridgeOutput struct {
	ProgramOutput []string `json:"program_output"`
}

// programOutput returns the layout-bridge program output as consecutive 32-byte words. A mocked
// stage contributes its fact as the single word.
func programOutput(job types.BlockJob) ([]byte, error) {
	if job.Bridge == nil {
		return nil, fmt.Errorf("block %d has no layout bridge result", job.Number)
	}
	if job.Bridge.Mocked() {
		return job.Bridge.Fact.Bytes(), nil
	}

	var proof bridgeOutput
	if err := json.Unmarshal(job.Bridge.Proof, &proof); err != nil {
		return nil, fmt.Errorf("layout bridge proof of block %d is not valid json: %w", job.Number, err)
	}
	if len(proof.ProgramOutput) == 0 {
		return nil, fmt.Errorf("layout bridge proof of block %d carries no program output", job.Number)
	}
	out := make([]byte, 0, 32*len(proof.ProgramOutput))
	for i, felt := range proof.ProgramOutput {
		word, ok := new(big.Int).SetString(strings.TrimPrefix(felt, "0x"), 16)
		if !ok || word.Sign() < 0 {
			return nil, fmt.Errorf("program output word %d of block %d is not a hex felt: %q", i, job.Number, felt)
		}
		if word.BitLen() > 256 {
			return nil, fmt.Errorf("program output word %d of block %d exceeds 32 bytes", i, job.Number)
		}
		out = append(out, common.BigToHash(word).Bytes()...)
	}
	return out, nil
}

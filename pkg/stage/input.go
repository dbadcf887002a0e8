package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/rollup-settler/pkg/prover"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// InputBuilder prepares the prover input of one stage for a block.
type InputBuilder interface {
	Build(ctx context.Context, job *types.BlockJob) (prover.Input, error)
}

func externalID(n uint64, kind types.StageKind) string {
	return fmt.Sprintf("block-%d-%s", n, kind)
}

// SnosInputBuilder turns a fetched block into a zipped PIE.
type SnosInputBuilder struct {
	gen PieGenerator
}

func NewSnosInputBuilder(gen PieGenerator) *SnosInputBuilder {
	return &SnosInputBuilder{gen: gen}
}

func (b *SnosInputBuilder) Build(ctx context.Context, job *types.BlockJob) (prover.Input, error) {
	if job.Raw == nil {
		return prover.Input{}, fmt.Errorf("%w: block %d was not fetched", ErrInvalidInput, job.Number)
	}
	pie, err := b.gen.Generate(ctx, job.Number, job.Raw.Payload)
	if err != nil {
		return prover.Input{}, err
	}
	zipped, err := pie.Zip()
	if err != nil {
		return prover.Input{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return prover.Input{
		Kind:       types.StageSnos,
		Block:      job.Number,
		ExternalID: externalID(job.Number, types.StageSnos),
		Pie:        zipped,
	}, nil
}

// BridgeInputBuilder wraps the SNOS proof as the input of the layout-bridge verifier program.
type BridgeInputBuilder struct {
	program *Program
}

func NewBridgeInputBuilder(program *Program) (*BridgeInputBuilder, error) {
	if program == nil || len(program.Bytes) == 0 {
		return nil, errors.New("invalid layout bridge program: must not be empty")
	}
	return &BridgeInputBuilder{program: program}, nil
}

func (b *BridgeInputBuilder) Build(_ context.Context, job *types.BlockJob) (prover.Input, error) {
	if job.Snos == nil || len(job.Snos.Proof) == 0 {
		return prover.Input{}, fmt.Errorf("%w: block %d has no snos proof", ErrInvalidInput, job.Number)
	}
	if !json.Valid(job.Snos.Proof) {
		return prover.Input{}, fmt.Errorf("%w: snos proof of block %d is not json", ErrInvalidInput, job.Number)
	}
	input, err := json.Marshal(struct {
		Proof json.RawMessage `json:"proof"`
	}{Proof: job.Snos.Proof})
	if err != nil {
		return prover.Input{}, err
	}
	return prover.Input{
		Kind:         types.StageLayoutBridge,
		Block:        job.Number,
		ExternalID:   externalID(job.Number, types.StageLayoutBridge),
		Program:      b.program.Bytes,
		ProgramInput: input,
	}, nil
}

package onchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ava-labs/libevm"
	"github.com/ava-labs/libevm/accounts/abi/bind"
	"github.com/ava-labs/libevm/common"
	ethtypes "github.com/ava-labs/libevm/core/types"
	"github.com/ava-labs/libevm/crypto"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/settlement"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

// FactRegistration selects how the layout-bridge proof reaches the chain.
type FactRegistration string

const (
	// FactRegistrationIntegrity verifies the proof on the fact registry before the state update.
	FactRegistrationIntegrity FactRegistration = "integrity"
	// FactRegistrationSkipped sends the program output straight to the state update.
	FactRegistrationSkipped FactRegistration = "skipped"
)

func ParseFactRegistration(s string) (FactRegistration, error) {
	switch FactRegistration(strings.ToLower(s)) {
	case FactRegistrationIntegrity:
		return FactRegistrationIntegrity, nil
	case FactRegistrationSkipped, "":
		return FactRegistrationSkipped, nil
	default:
		return "", fmt.Errorf("unknown fact registration %q (want integrity or skipped)", s)
	}
}

type Config struct {
	Contract         common.Address
	FactRegistry     common.Address
	ChainID          *big.Int
	FactRegistration FactRegistration
	ConfirmTimeout   time.Duration
	// GasMarginPercent is added on top of the estimate.
	GasMarginPercent uint64
}

func DefaultConfig() Config {
	return Config{
		FactRegistration: FactRegistrationSkipped,
		ConfirmTimeout:   5 * time.Minute,
		GasMarginPercent: 20,
	}
}

// Backend settles persistent blocks through the settlement contract.
type Backend struct {
	chain   Chain
	cfg     Config
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  ethtypes.Signer
	da      settlement.Backend
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	mu sync.Mutex
	// published holds DA pointers already posted for blocks whose state update has not landed,
	// so a retried update does not post the blob again.
	published map[uint64]types.DAPointer
}

// New builds the backend. da is optional: when set, every block is first published to the DA
// network and the pointer is passed to the state update.
func New(chain Chain, cfg Config, key *ecdsa.PrivateKey, da settlement.Backend, log *zap.SugaredLogger, m *metrics.Metrics) (*Backend, error) {
	if chain == nil {
		return nil, errors.New("invalid chain client: must not be nil")
	}
	if key == nil {
		return nil, errors.New("invalid signing key: must not be nil")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("invalid chain id: must be positive")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("invalid settlement contract address: must not be zero")
	}
	if cfg.FactRegistration == FactRegistrationIntegrity && cfg.FactRegistry == (common.Address{}) {
		return nil, errors.New("integrity fact registration requires a fact registry address")
	}
	if cfg.ConfirmTimeout <= 0 {
		return nil, errors.New("invalid confirmation timeout: must be positive")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	return &Backend{
		chain:     chain,
		cfg:       cfg,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		signer:    ethtypes.LatestSignerForChainID(cfg.ChainID),
		da:        da,
		log:       log,
		metrics:   m,
		published: make(map[uint64]types.DAPointer),
	}, nil
}

func (b *Backend) Mode() types.Mode { return types.ModePersistent }

func (b *Backend) LastSettled(ctx context.Context) (uint64, bool, error) {
	st, err := getState(ctx, b.chain, b.cfg.Contract)
	if err != nil {
		return 0, false, settlement.Retryable(err)
	}
	return st.BlockNumber, st.Settled, nil
}

func (b *Backend) Finalize(ctx context.Context, job types.BlockJob) (types.SettlementRecord, error) {
	n := job.Number
	st, err := getState(ctx, b.chain, b.cfg.Contract)
	if err != nil {
		return types.SettlementRecord{}, settlement.Retryable(err)
	}
	if st.Settled {
		switch {
		case st.BlockNumber == n:
			root := st.StateRoot
			b.log.Infow("block already settled on chain, recovering",
				"block", n,
				"stateRoot", root.Hex(),
			)
			b.forget(n)
			return types.SettlementRecord{
				BlockNumber: n,
				Mode:        types.ModePersistent,
				StateRoot:   &root,
				SettledAt:   time.Now().UTC(),
				Recovered:   true,
			}, nil
		case st.BlockNumber > n:
			return types.SettlementRecord{}, settlement.Mismatch(n, st.BlockNumber)
		case st.BlockNumber+1 < n:
			return types.SettlementRecord{}, settlement.Fatal(
				fmt.Errorf("settlement gap: contract at block %d, settling %d", st.BlockNumber, n))
		}
	}

	output, err := programOutput(job)
	if err != nil {
		return types.SettlementRecord{}, settlement.Fatal(err)
	}

	ptr, err := b.publish(ctx, job)
	if err != nil {
		return types.SettlementRecord{}, err
	}

	if b.cfg.FactRegistration == FactRegistrationIntegrity && !job.Bridge.Mocked() {
		data, err := packVerifyProof(job.Bridge.Proof)
		if err != nil {
			return types.SettlementRecord{}, settlement.Fatal(err)
		}
		if _, err := b.send(ctx, b.cfg.FactRegistry, data, "verifyProof", n); err != nil {
			return types.SettlementRecord{}, err
		}
	}

	data, err := packUpdateState(output, ptr)
	if err != nil {
		return types.SettlementRecord{}, settlement.Fatal(err)
	}
	receipt, err := b.send(ctx, b.cfg.Contract, data, "updateState", n)
	if err != nil {
		return types.SettlementRecord{}, err
	}
	b.forget(n)

	txHash := receipt.TxHash
	return types.SettlementRecord{
		BlockNumber: n,
		Mode:        types.ModePersistent,
		TxHash:      &txHash,
		DA:          ptr,
		SettledAt:   time.Now().UTC(),
	}, nil
}

func (b *Backend) publish(ctx context.Context, job types.BlockJob) (*types.DAPointer, error) {
	if b.da == nil {
		return nil, nil
	}
	b.mu.Lock()
	ptr, ok := b.published[job.Number]
	b.mu.Unlock()
	if ok {
		return &ptr, nil
	}

	rec, err := b.da.Finalize(ctx, job)
	if err != nil {
		return nil, err
	}
	if rec.DA == nil {
		return nil, settlement.Fatal(fmt.Errorf("DA publisher returned no pointer for block %d", job.Number))
	}
	b.mu.Lock()
	b.published[job.Number] = *rec.DA
	b.mu.Unlock()
	return rec.DA, nil
}

func (b *Backend) forget(n uint64) {
	b.mu.Lock()
	delete(b.published, n)
	b.mu.Unlock()
}

// send signs and submits a call to `to` and waits for it to be mined.
func (b *Backend) send(ctx context.Context, to common.Address, data []byte, method string, block uint64) (*ethtypes.Receipt, error) {
	nonce, err := b.chain.PendingNonceAt(ctx, b.from)
	if err != nil {
		return nil, settlement.Retryable(fmt.Errorf("failed to fetch nonce: %w", err))
	}
	gasPrice, err := b.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, settlement.Retryable(fmt.Errorf("failed to suggest gas price: %w", err))
	}
	gas, err := b.chain.EstimateGas(ctx, ethereum.CallMsg{From: b.from, To: &to, GasPrice: gasPrice, Data: data})
	if err != nil {
		return nil, classifySend(fmt.Errorf("%s gas estimation failed: %w", method, err))
	}
	gas += gas * b.cfg.GasMarginPercent / 100

	tx, err := ethtypes.SignNewTx(b.key, b.signer, &ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})
	if err != nil {
		return nil, settlement.Fatal(fmt.Errorf("failed to sign %s: %w", method, err))
	}
	start := time.Now()
	err = b.chain.SendTransaction(ctx, tx)
	b.metrics.RecordRPCCall("eth_sendRawTransaction", err, time.Since(start).Seconds())
	if err != nil {
		return nil, classifySend(fmt.Errorf("%s send failed: %w", method, err))
	}
	b.log.Debugw("transaction sent",
		"method", method,
		"block", block,
		"tx", tx.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, b.chain, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, settlement.Retryable(fmt.Errorf("%s %s not confirmed: %w", method, tx.Hash().Hex(), err))
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, settlement.Fatal(fmt.Errorf("%s %s reverted in block %v", method, tx.Hash().Hex(), receipt.BlockNumber))
	}
	b.log.Infow("transaction confirmed",
		"method", method,
		"block", block,
		"tx", tx.Hash().Hex(),
		"gasUsed", receipt.GasUsed,
	)
	return receipt, nil
}

var fatalSendErrors = []string{
	"execution reverted",
	"insufficient funds",
	"intrinsic gas too low",
	"invalid sender",
}

// classifySend marks rejections of the payload itself fatal. Everything else, mempool races such
// as "nonce too low" or "replacement transaction underpriced" included, is retried.
func classifySend(err error) error {
	msg := strings.ToLower(err.Error())
	for _, s := range fatalSendErrors {
		if strings.Contains(msg, s) {
			return settlement.Fatal(err)
		}
	}
	return settlement.Retryable(err)
}

var _ settlement.Backend = (*Backend)(nil)

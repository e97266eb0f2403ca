package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known development key (hardhat account 0); never holds funds.
const testArbitratorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeEth struct {
	estimateErr error
	sent        []*types.Transaction
}

func (f *fakeEth) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (f *fakeEth) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeEth) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeEth) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeEth) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEth) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 90_000, nil
}

func (f *fakeEth) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEth) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeEth) Close() {}

func newTestClient(t *testing.T, eth *fakeEth) *Client {
	t.Helper()
	c, err := New(Config{
		EscrowContract: "0x4444444444444444444444444444444444444444",
		ChainID:        31337,
		ArbitratorKey:  testArbitratorKey,
	}, WithEthClient(eth))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSubmitResolution(t *testing.T) {
	eth := &fakeEth{}
	c := newTestClient(t, eth)

	hash, err := c.SubmitResolution(context.Background(), 42, true)
	if err != nil {
		t.Fatalf("SubmitResolution: %v", err)
	}
	if hash == "" {
		t.Fatal("expected a transaction hash")
	}
	if len(eth.sent) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(eth.sent))
	}
	if got := eth.sent[0].Gas(); got != 90_000 {
		t.Fatalf("expected estimated gas limit 90000, got %d", got)
	}
}

func TestSubmitResolutionEstimateRevert(t *testing.T) {
	eth := &fakeEth{estimateErr: errors.New("execution reverted: dispute not open")}
	c := newTestClient(t, eth)

	_, err := c.SubmitResolution(context.Background(), 42, true)
	if err == nil {
		t.Fatal("expected estimation revert to fail the submission")
	}
	var se *SubmitError
	if !errors.As(err, &se) || se.Op != "estimate" {
		t.Fatalf("expected estimate SubmitError, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("revert should classify as permanent")
	}
	if len(eth.sent) != 0 {
		t.Fatalf("reverting transaction was broadcast anyway: %d sends", len(eth.sent))
	}
}

func TestSubmitResolutionTransientEstimateFailure(t *testing.T) {
	eth := &fakeEth{estimateErr: errors.New("connection reset by peer")}
	c := newTestClient(t, eth)

	hash, err := c.SubmitResolution(context.Background(), 42, false)
	if err != nil {
		t.Fatalf("transient estimation failure should fall back: %v", err)
	}
	if hash == "" {
		t.Fatal("expected a transaction hash")
	}
	if got := eth.sent[0].Gas(); got != DefaultGasLimit {
		t.Fatalf("expected fallback gas limit %d, got %d", DefaultGasLimit, got)
	}
}

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// escrowABI covers the slice of the contract this service touches: the
// seven lifecycle events, the deal view getter, and dispute resolution.
const escrowABI = `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"},{"indexed":false,"name":"buyer","type":"address"},{"indexed":false,"name":"seller","type":"address"},{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"inrAmount","type":"uint256"}],"name":"DealCreated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"},{"indexed":false,"name":"buyer","type":"address"}],"name":"DealFunded","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"},{"indexed":false,"name":"buyer","type":"address"}],"name":"PaymentSent","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"},{"indexed":false,"name":"seller","type":"address"}],"name":"PaymentConfirmed","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"}],"name":"DealCompleted","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"},{"indexed":false,"name":"initiator","type":"address"}],"name":"DealDisputed","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"dealId","type":"uint256"}],"name":"DealCancelled","type":"event"},
	{"constant":true,"inputs":[{"name":"dealId","type":"uint256"}],"name":"getDeal","outputs":[{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"inrAmount","type":"uint256"},{"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"},{"name":"expiresAt","type":"uint256"},{"name":"buyerConfirmed","type":"bool"},{"name":"sellerConfirmed","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"dealId","type":"uint256"},{"name":"favorBuyer","type":"bool"}],"name":"resolveDispute","outputs":[],"type":"function"}
]`

// DefaultGasLimit is the fallback when gas estimation fails.
const DefaultGasLimit = uint64(200000)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Config for the escrow contract client.
type Config struct {
	RPCURL         string
	ChainID        int64
	EscrowContract string
	// ArbitratorKey signs dispute resolution transactions. Optional:
	// without it the client is read-only and SubmitResolution fails.
	ArbitratorKey string
	CallTimeout   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithEthClient sets a custom Ethereum client (used by tests).
func WithEthClient(ec EthClient) Option {
	return func(c *Client) { c.eth = ec }
}

// Client talks to the escrow contract through an Ethereum JSON-RPC node.
type Client struct {
	eth         EthClient
	contract    common.Address
	chainID     *big.Int
	abi         abi.ABI
	key         *ecdsa.PrivateKey
	callTimeout time.Duration

	eventsByID map[common.Hash]EventKind
}

// New creates a contract client. Dials the RPC endpoint unless an
// EthClient is injected via WithEthClient.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.EscrowContract == "" {
		return nil, fmt.Errorf("%w: escrow contract address required", ErrRPCConnection)
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow ABI: %w", err)
	}

	c := &Client{
		contract:    common.HexToAddress(cfg.EscrowContract),
		chainID:     big.NewInt(cfg.ChainID),
		abi:         parsed,
		callTimeout: cfg.CallTimeout,
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 10 * time.Second
	}

	c.eventsByID = make(map[common.Hash]EventKind)
	for name, ev := range parsed.Events {
		c.eventsByID[ev.ID] = EventKind(name)
	}

	if cfg.ArbitratorKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.ArbitratorKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		c.key = key
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.eth == nil {
		ec, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.eth = ec
	}
	return c, nil
}

// Contract returns the escrow contract address.
func (c *Client) Contract() string {
	return c.contract.Hex()
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

// DealEvents returns all decoded escrow events in [from, to], in log order.
func (c *Client) DealEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("filter escrow logs: %w", err)
	}

	var events []Event
	for _, l := range logs {
		ev, ok := c.decodeLog(l)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// decodeLog turns a raw contract log into an Event. Logs with an unknown
// topic are skipped; the contract may emit events this service ignores.
func (c *Client) decodeLog(l types.Log) (Event, bool) {
	if len(l.Topics) < 2 {
		return Event{}, false
	}
	kind, ok := c.eventsByID[l.Topics[0]]
	if !ok {
		return Event{}, false
	}

	ev := Event{
		Kind:        kind,
		DealID:      new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
	}

	// Non-indexed fields sit in 32-byte slots of the log data.
	slot := func(i int) []byte {
		if len(l.Data) < (i+1)*32 {
			return nil
		}
		return l.Data[i*32 : (i+1)*32]
	}
	addr := func(i int) string {
		b := slot(i)
		if b == nil {
			return ""
		}
		return strings.ToLower(common.BytesToAddress(b).Hex())
	}

	switch kind {
	case EventDealCreated:
		ev.Buyer = addr(0)
		ev.Seller = addr(1)
		ev.Token = addr(2)
		if b := slot(3); b != nil {
			ev.Amount = new(big.Int).SetBytes(b)
		}
		if b := slot(4); b != nil {
			ev.INRAmount = new(big.Int).SetBytes(b)
		}
	case EventDealFunded, EventPaymentSent:
		ev.Buyer = addr(0)
	case EventPaymentConfirmed:
		ev.Seller = addr(0)
	case EventDealDisputed:
		ev.Initiator = addr(0)
	}
	return ev, true
}

// DealView reads the contract's current state for one deal.
func (c *Client) DealView(ctx context.Context, dealID uint64) (*DealView, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	data, err := c.abi.Pack("getDeal", new(big.Int).SetUint64(dealID))
	if err != nil {
		return nil, fmt.Errorf("pack getDeal: %w", err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getDeal: %w", err)
	}

	vals, err := c.abi.Unpack("getDeal", raw)
	if err != nil || len(vals) != 10 {
		return nil, fmt.Errorf("unpack getDeal: %w", err)
	}

	buyer, _ := vals[0].(common.Address)
	seller, _ := vals[1].(common.Address)
	token, _ := vals[2].(common.Address)
	amount, _ := vals[3].(*big.Int)
	inrAmount, _ := vals[4].(*big.Int)
	status, _ := vals[5].(uint8)
	createdAt, _ := vals[6].(*big.Int)
	expiresAt, _ := vals[7].(*big.Int)
	buyerConfirmed, _ := vals[8].(bool)
	sellerConfirmed, _ := vals[9].(bool)

	if buyer == (common.Address{}) {
		return nil, ErrDealNotOnChain
	}

	view := &DealView{
		DealID:          dealID,
		Buyer:           strings.ToLower(buyer.Hex()),
		Seller:          strings.ToLower(seller.Hex()),
		Token:           strings.ToLower(token.Hex()),
		Amount:          amount,
		INRAmount:       inrAmount,
		Status:          StatusCode(status),
		BuyerConfirmed:  buyerConfirmed,
		SellerConfirmed: sellerConfirmed,
	}
	if createdAt != nil {
		view.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()
	}
	if expiresAt != nil {
		view.ExpiresAt = time.Unix(expiresAt.Int64(), 0).UTC()
	}
	return view, nil
}

// SubmitResolution signs and broadcasts resolveDispute(dealId, favorBuyer)
// with the arbitrator key. Returns the transaction hash on broadcast; the
// caller waits for the finalized event, not the receipt.
func (c *Client) SubmitResolution(ctx context.Context, dealID uint64, favorBuyer bool) (string, error) {
	if c.key == nil {
		return "", &SubmitError{Op: "resolve", Err: ErrInvalidKey}
	}

	data, err := c.abi.Pack("resolveDispute", new(big.Int).SetUint64(dealID), favorBuyer)
	if err != nil {
		return "", &SubmitError{Op: "pack", Err: err}
	}

	from := crypto.PubkeyToAddress(c.key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", &SubmitError{Op: "nonce", Err: err}
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", &SubmitError{Op: "gas_price", Err: err}
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		// Estimation runs the call; a revert here means the broadcast
		// would burn gas on a doomed transaction. Only transient node
		// trouble falls back to the default limit.
		if !IsRetryable(err) {
			return "", &SubmitError{Op: "estimate", Err: err}
		}
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", &SubmitError{Op: "sign", Err: err}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", &SubmitError{Op: "send", TxHash: signed.Hash().Hex(), Err: err}
	}
	return signed.Hash().Hex(), nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

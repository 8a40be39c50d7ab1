// Package ledger is a typed client for the CoffeeSupplyChain contract. It marshals Go values to
// and from the contract's ABI encoding and reports ledger failures; it applies no business rules.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "coffeechain/ledger"

// Config identifies the node, the contract and the sending account.
type Config struct {
	URL             string
	ContractAddress string
	// OwnerAddress is optional; when set it must match the address derived from PrivateKey.
	OwnerAddress string
	PrivateKey   string
	// ChainID is asked from the node when zero.
	ChainID int64
}

// contract is the slice of *bind.BoundContract the client drives.
type contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// backend waits for receipts and replays reverted transactions.
type backend interface {
	bind.DeployBackend
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client talks to one contract deployment on behalf of one sender. It is safe for concurrent use.
type Client struct {
	address  common.Address
	abi      abi.ABI
	contract contract
	backend  backend
	signer   *bind.TransactOpts

	// sendMu serializes nonce assignment and submission for the shared sender.
	sendMu sync.Mutex

	readRetries int
	backoff     backoff

	tracer trace.Tracer
	meter  metric.Meter
	inst   instruments
	logger *slog.Logger
	closer func()
}

// Option customizes a Client.
type Option func(*Client)

// WithTracer sets the tracer used for ledger spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithMeter sets the meter used for ledger RED metrics.
func WithMeter(meter metric.Meter) Option {
	return func(c *Client) { c.meter = meter }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReadRetries sets how many times a read-only call is retried after a transport failure.
func WithReadRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.readRetries = n
		}
	}
}

// WithReadBackoff sets the base and maximum delay between read retries.
func WithReadBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) { c.backoff = backoff{base: base, max: maxDelay} }
}

// Dial connects to the node, checks the contract deployment and prepares the signer.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.URL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = eth.ChainID(ctx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("ledger: query chain id: %w", err)
		}
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: build transactor: %w", err)
	}
	if cfg.OwnerAddress != "" {
		if !common.IsHexAddress(cfg.OwnerAddress) || common.HexToAddress(cfg.OwnerAddress) != signer.From {
			eth.Close()
			return nil, fmt.Errorf("ledger: owner address %s does not match the private key (%s)", cfg.OwnerAddress, signer.From.Hex())
		}
	}

	address := common.HexToAddress(cfg.ContractAddress)
	code, err := eth.CodeAt(ctx, address, nil)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: read contract code: %w", err)
	}
	if len(code) == 0 {
		eth.Close()
		return nil, fmt.Errorf("ledger: no contract deployed at %s", address.Hex())
	}

	bound := bind.NewBoundContract(address, parsed, eth, eth, eth)
	c, err := newClient(address, parsed, bound, eth, signer, opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

func newClient(address common.Address, parsed abi.ABI, bound contract, chain backend, signer *bind.TransactOpts, opts ...Option) (*Client, error) {
	c := &Client{
		address:     address,
		abi:         parsed,
		contract:    bound,
		backend:     chain,
		signer:      signer,
		readRetries: 2,
		backoff:     backoff{base: 200 * time.Millisecond, max: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	if c.meter == nil {
		c.meter = otel.Meter(instrumentationName)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "ledger")

	inst, err := newInstruments(c.meter)
	if err != nil {
		return nil, fmt.Errorf("ledger: init metrics: %w", err)
	}
	c.inst = inst
	return c, nil
}

// Close releases the node connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Sender is the account that signs mutating calls.
func (c *Client) Sender() common.Address { return c.signer.From }

// ContractAddress is the address of the bound contract.
func (c *Client) ContractAddress() common.Address { return c.address }

// CreateBatch submits createBatch(origin, inventory).
func (c *Client) CreateBatch(ctx context.Context, origin string, inventory *big.Int) (*Receipt, error) {
	return c.send(ctx, MethodCreateBatch, GasCreateBatch, origin, inventory)
}

// UpdateStage submits updateStage(id, stage).
func (c *Client) UpdateStage(ctx context.Context, id *big.Int, stage uint8) (*Receipt, error) {
	return c.send(ctx, MethodUpdateStage, GasUpdateStage, id, stage)
}

// UpdateInventory submits updateInventory(id, inventory).
func (c *Client) UpdateInventory(ctx context.Context, id, inventory *big.Int) (*Receipt, error) {
	return c.send(ctx, MethodUpdateInventory, GasUpdateInventory, id, inventory)
}

// DistributeBatch submits distributeBatch(id, distributor).
func (c *Client) DistributeBatch(ctx context.Context, id *big.Int, distributor string) (*Receipt, error) {
	return c.send(ctx, MethodDistributeBatch, GasDistributeBatch, id, distributor)
}

// GetBatch reads one batch.
func (c *Client) GetBatch(ctx context.Context, id *big.Int) (*Batch, error) {
	out, err := c.call(ctx, MethodGetBatch, id)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, &CallError{Method: MethodGetBatch, Err: fmt.Errorf("unexpected output arity %d", len(out))}
	}
	return &Batch{
		ID:          *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Origin:      *abi.ConvertType(out[1], new(string)).(*string),
		Stage:       *abi.ConvertType(out[2], new(uint8)).(*uint8),
		Inventory:   *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		Distributor: *abi.ConvertType(out[4], new(string)).(*string),
		Timestamp:   *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
	}, nil
}

// GetBatchCount reads batchCount().
func (c *Client) GetBatchCount(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, MethodBatchCount)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &CallError{Method: MethodBatchCount, Err: fmt.Errorf("unexpected output arity %d", len(out))}
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// send submits a transaction with a fixed gas ceiling and waits until it is mined.
// Sends are never retried.
func (c *Client) send(ctx context.Context, method string, gas uint64, params ...interface{}) (receipt *Receipt, err error) {
	ctx, done := c.track(ctx, method, "send")
	defer func() { done(err) }()

	opts := *c.signer
	opts.Context = ctx
	opts.GasLimit = gas

	c.sendMu.Lock()
	tx, err := c.contract.Transact(&opts, method, params...)
	c.sendMu.Unlock()
	if err != nil {
		callErr := &CallError{Method: method, Reason: RevertReason(err), Err: err}
		c.logger.WarnContext(ctx, "ledger submission rejected", "method", method, "reason", callErr.Reason, "error", err)
		return nil, callErr
	}
	hash := tx.Hash()
	c.logger.DebugContext(ctx, "transaction submitted", "method", method, "tx", hash.Hex(), "gas_limit", gas)

	mined, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, &CallError{Method: method, TxHash: &hash, Err: fmt.Errorf("waiting for receipt: %w", err)}
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		reason := c.revertReason(ctx, tx, mined)
		c.logger.WarnContext(ctx, "transaction reverted", "method", method, "tx", hash.Hex(), "gas_used", mined.GasUsed, "reason", reason)
		return nil, &CallError{Method: method, TxHash: &hash, Reason: reason, Err: ErrReverted}
	}
	return c.newReceipt(tx, mined), nil
}

// revertReason explains a mined failure: an exhausted ceiling, or the reason reported when the
// call is replayed against the parent block.
func (c *Client) revertReason(ctx context.Context, tx *types.Transaction, mined *types.Receipt) string {
	if mined.GasUsed >= tx.Gas() {
		return fmt.Sprintf("out of gas (ceiling %d)", tx.Gas())
	}
	var block *big.Int
	if mined.BlockNumber != nil && mined.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(mined.BlockNumber, big.NewInt(1))
	}
	msg := ethereum.CallMsg{
		From:  c.signer.From,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	if _, err := c.backend.CallContract(ctx, msg, block); err != nil {
		if reason := RevertReason(err); reason != "" {
			return reason
		}
		return err.Error()
	}
	return ""
}

// call runs a read-only method, retrying transport failures but never contract reverts.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (out []interface{}, err error) {
	ctx, done := c.track(ctx, method, "call")
	defer func() { done(err) }()

	for attempt := 0; ; attempt++ {
		out = nil
		err = c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
		if err == nil {
			return out, nil
		}
		if isRevert(err) || attempt >= c.readRetries || ctx.Err() != nil {
			return nil, &CallError{Method: method, Reason: RevertReason(err), Err: err}
		}
		delay := c.backoff.delay(attempt)
		c.logger.WarnContext(ctx, "ledger read failed, retrying",
			"method", method, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, &CallError{Method: method, Err: errors.Join(err, ctx.Err())}
		case <-time.After(delay):
		}
	}
}

func (c *Client) newReceipt(tx *types.Transaction, mined *types.Receipt) *Receipt {
	r := &Receipt{
		TxHash:            mined.TxHash,
		BlockHash:         mined.BlockHash,
		BlockNumber:       mined.BlockNumber,
		TransactionIndex:  mined.TransactionIndex,
		From:              c.signer.From,
		GasUsed:           mined.GasUsed,
		CumulativeGasUsed: mined.CumulativeGasUsed,
		EffectiveGasPrice: mined.EffectiveGasPrice,
		Status:            mined.Status,
		Type:              mined.Type,
		Events:            c.decodeEvents(mined.Logs),
	}
	if r.TxHash == (common.Hash{}) {
		r.TxHash = tx.Hash()
	}
	if to := tx.To(); to != nil {
		r.To = *to
	}
	return r
}

func (c *Client) decodeEvents(logs []*types.Log) []Event {
	var events []Event
	for _, l := range logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		e := Event{Name: ev.Name}
		if len(l.Topics) > 1 {
			e.BatchID = new(big.Int).SetBytes(l.Topics[1].Bytes())
		}
		events = append(events, e)
	}
	return events
}

// track opens a span and records RED metrics for one ledger round trip.
func (c *Client) track(ctx context.Context, method, kind string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("ledger.method", method),
		attribute.String("ledger.kind", kind),
	}
	ctx, span := c.tracer.Start(ctx, "ledger."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	c.inst.calls.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, func(err error) {
		c.inst.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.inst.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		span.End()
	}
}

type instruments struct {
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		inst instruments
		err  error
	)
	inst.calls, err = meter.Int64Counter("ledger.calls",
		metric.WithDescription("Ledger round trips by method and kind"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return inst, err
	}
	inst.errors, err = meter.Int64Counter("ledger.errors",
		metric.WithDescription("Failed ledger round trips"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return inst, err
	}
	inst.duration, err = meter.Float64Histogram("ledger.call.duration",
		metric.WithDescription("Ledger round trip duration, including mining for sends"),
		metric.WithUnit("s"),
	)
	return inst, err
}

// Package batch orchestrates the batch lifecycle on top of the ledger client: it validates raw
// inputs, enforces the distribute precondition and normalizes ledger results for transport.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"coffeechain/pkg/ledger"
)

const (
	OpCreateBatch     = "createBatch"
	OpUpdateStage     = "updateStage"
	OpUpdateInventory = "updateInventory"
	OpDistributeBatch = "distributeBatch"
	OpGetBatch        = "getBatch"
	OpGetBatches      = "getBatches"
)

// Ledger is the subset of *ledger.Client the service calls.
type Ledger interface {
	CreateBatch(ctx context.Context, origin string, inventory *big.Int) (*ledger.Receipt, error)
	UpdateStage(ctx context.Context, id *big.Int, stage uint8) (*ledger.Receipt, error)
	UpdateInventory(ctx context.Context, id, inventory *big.Int) (*ledger.Receipt, error)
	DistributeBatch(ctx context.Context, id *big.Int, distributor string) (*ledger.Receipt, error)
	GetBatch(ctx context.Context, id *big.Int) (*ledger.Batch, error)
	GetBatchCount(ctx context.Context) (*big.Int, error)
}

// Submission describes one mutating ledger call and its outcome.
type Submission struct {
	Operation string
	// BatchID is nil for createBatch until the receipt names the new id.
	BatchID *big.Int
	// Params is a short human-readable rendering of the validated arguments.
	Params  string
	Receipt *ledger.Receipt
	Err     error
	At      time.Time
}

// Journal receives every mutating submission. Record must not block for long.
type Journal interface {
	Record(ctx context.Context, s Submission)
}

// CreateBatchInput is the raw input of CreateBatch.
type CreateBatchInput struct {
	Origin    Arg
	Inventory Arg
}

// UpdateStageInput is the raw input of UpdateStage.
type UpdateStageInput struct {
	ID    Arg
	Stage Arg
}

// UpdateInventoryInput is the raw input of UpdateInventory.
type UpdateInventoryInput struct {
	ID        Arg
	Inventory Arg
}

// DistributeBatchInput is the raw input of DistributeBatch.
type DistributeBatchInput struct {
	ID          Arg
	Distributor Arg
}

// Service is stateless between calls; it is safe for concurrent use.
type Service struct {
	ledger  Ledger
	locker  Locker
	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker sets the lock that serializes distribute per batch id.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithJournal records every mutating submission.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the service to a ledger. Distribute is serialized per batch with an
// in-process KeyedMutex unless WithLocker says otherwise.
func NewService(l Ledger, opts ...Option) *Service {
	s := &Service{ledger: l, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "batch")
	return s
}

// CreateBatch validates origin and inventory, then submits createBatch.
func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (*Receipt, error) {
	origin, err := parseName(OpCreateBatch, "origin", in.Origin)
	if err != nil {
		return nil, err
	}
	inventory, err := parseInventory(OpCreateBatch, in.Inventory)
	if err != nil {
		return nil, err
	}

	r, err := s.ledger.CreateBatch(ctx, origin, inventory)
	var id *big.Int
	if err == nil {
		for _, ev := range r.Events {
			if ev.BatchID != nil {
				id = ev.BatchID
				break
			}
		}
	}
	s.record(ctx, Submission{
		Operation: OpCreateBatch,
		BatchID:   id,
		Params:    fmt.Sprintf("origin=%q inventory=%s", origin, inventory),
		Receipt:   r,
		Err:       err,
	})
	if err != nil {
		return nil, ledgerFailure(OpCreateBatch, err)
	}
	s.logger.InfoContext(ctx, "batch created", "batch_id", id, "tx", r.TxHash.Hex())
	return newReceipt(r), nil
}

// UpdateStage validates id and stage, then submits updateStage.
func (s *Service) UpdateStage(ctx context.Context, in UpdateStageInput) (*Receipt, error) {
	id, err := parseID(OpUpdateStage, in.ID)
	if err != nil {
		return nil, err
	}
	stage, err := parseStage(OpUpdateStage, in.Stage)
	if err != nil {
		return nil, err
	}

	r, err := s.ledger.UpdateStage(ctx, id, stage)
	s.record(ctx, Submission{
		Operation: OpUpdateStage,
		BatchID:   id,
		Params:    fmt.Sprintf("stage=%d", stage),
		Receipt:   r,
		Err:       err,
	})
	if err != nil {
		return nil, ledgerFailure(OpUpdateStage, err)
	}
	s.logger.InfoContext(ctx, "batch stage updated", "batch_id", id, "stage", Stage(stage).String(), "tx", r.TxHash.Hex())
	return newReceipt(r), nil
}

// UpdateInventory validates id and inventory, then submits updateInventory.
func (s *Service) UpdateInventory(ctx context.Context, in UpdateInventoryInput) (*Receipt, error) {
	id, err := parseID(OpUpdateInventory, in.ID)
	if err != nil {
		return nil, err
	}
	inventory, err := parseInventory(OpUpdateInventory, in.Inventory)
	if err != nil {
		return nil, err
	}

	r, err := s.ledger.UpdateInventory(ctx, id, inventory)
	s.record(ctx, Submission{
		Operation: OpUpdateInventory,
		BatchID:   id,
		Params:    fmt.Sprintf("inventory=%s", inventory),
		Receipt:   r,
		Err:       err,
	})
	if err != nil {
		return nil, ledgerFailure(OpUpdateInventory, err)
	}
	s.logger.InfoContext(ctx, "batch inventory updated", "batch_id", id, "inventory", inventory, "tx", r.TxHash.Hex())
	return newReceipt(r), nil
}

// DistributeBatch validates its input, checks that the batch is Packaged and only then submits
// distributeBatch. The check and the submission run under the batch's lock.
func (s *Service) DistributeBatch(ctx context.Context, in DistributeBatchInput) (*Receipt, error) {
	id, err := parseID(OpDistributeBatch, in.ID)
	if err != nil {
		return nil, err
	}
	distributor, err := parseName(OpDistributeBatch, "distributor", in.Distributor)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, "batch:"+id.String())
	if err != nil {
		s.logger.WarnContext(ctx, "distribute lock failed", "batch_id", id, "err", err)
		return nil, lockFailure(OpDistributeBatch, id, err)
	}
	defer unlock()

	current, err := s.ledger.GetBatch(ctx, id)
	if err != nil {
		return nil, ledgerFailure(OpDistributeBatch, err)
	}
	if Stage(current.Stage) != StagePackaged {
		s.logger.InfoContext(ctx, "distribute refused", "batch_id", id, "stage", Stage(current.Stage).String())
		return nil, preconditionFailed(OpDistributeBatch, current.Stage)
	}

	r, err := s.ledger.DistributeBatch(ctx, id, distributor)
	s.record(ctx, Submission{
		Operation: OpDistributeBatch,
		BatchID:   id,
		Params:    fmt.Sprintf("distributor=%q", distributor),
		Receipt:   r,
		Err:       err,
	})
	if err != nil {
		return nil, ledgerFailure(OpDistributeBatch, err)
	}
	s.logger.InfoContext(ctx, "batch distributed", "batch_id", id, "distributor", distributor, "tx", r.TxHash.Hex())
	return newReceipt(r), nil
}

// GetBatch validates the id and reads one batch.
func (s *Service) GetBatch(ctx context.Context, idArg Arg) (Batch, error) {
	id, err := parseID(OpGetBatch, idArg)
	if err != nil {
		return Batch{}, err
	}
	b, err := s.ledger.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, ledgerFailure(OpGetBatch, err)
	}
	return newBatch(b), nil
}

// GetBatches reads batches 1..count in order and stops at the first unreadable one.
func (s *Service) GetBatches(ctx context.Context) ([]Batch, error) {
	count, err := s.ledger.GetBatchCount(ctx)
	if err != nil {
		return nil, ledgerFailure(OpGetBatches, err)
	}

	batches := make([]Batch, 0, capacity(count))
	one := big.NewInt(1)
	for id := big.NewInt(1); id.Cmp(count) <= 0; id = new(big.Int).Add(id, one) {
		b, err := s.ledger.GetBatch(ctx, id)
		if err != nil {
			failure := ledgerFailure(OpGetBatches, err)
			failure.Message = fmt.Sprintf("batch %s: %s", id, failure.Message)
			return nil, failure
		}
		batches = append(batches, newBatch(b))
	}
	return batches, nil
}

func (s *Service) record(ctx context.Context, sub Submission) {
	if sub.Err != nil {
		s.logger.WarnContext(ctx, "ledger submission failed",
			"op", sub.Operation, "batch_id", sub.BatchID, "reason", ledger.RevertReason(sub.Err), "error", sub.Err)
	}
	if s.journal == nil {
		return
	}
	sub.At = s.now().UTC()
	s.journal.Record(ctx, sub)
}

// capacity bounds the preallocation for a listing.
func capacity(count *big.Int) int {
	const maxPrealloc = 1024
	if count.IsInt64() && count.Int64() >= 0 && count.Int64() < maxPrealloc {
		return int(count.Int64())
	}
	return maxPrealloc
}

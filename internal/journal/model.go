package journal

import (
	"errors"
	"time"

	"coffeechain/pkg/batch"
	"coffeechain/pkg/ledger"
)

// Status values of an Entry.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Entry is one journaled ledger submission.
type Entry struct {
	ID          int64     `json:"id"`
	Operation   string    `json:"operation"`
	BatchID     string    `json:"batchId,omitempty"`
	Params      string    `json:"params"`
	TxHash      string    `json:"transactionHash,omitempty"`
	BlockNumber string    `json:"blockNumber,omitempty"`
	GasUsed     string    `json:"gasUsed,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// FromSubmission flattens a submission into an Entry. Ledger figures are kept as decimal text.
func FromSubmission(s batch.Submission) Entry {
	e := Entry{
		Operation:  s.Operation,
		Params:     s.Params,
		Status:     StatusConfirmed,
		RecordedAt: s.At.UTC(),
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	if s.BatchID != nil {
		e.BatchID = s.BatchID.String()
	}
	if r := s.Receipt; r != nil {
		e.TxHash = r.TxHash.Hex()
		if r.BlockNumber != nil {
			e.BlockNumber = r.BlockNumber.String()
		}
		e.GasUsed = formatUint(r.GasUsed)
	}
	if s.Err != nil {
		e.Status = StatusFailed
		e.Error = s.Err.Error()
		var callErr *ledger.CallError
		if errors.As(s.Err, &callErr) && callErr.TxHash != nil {
			e.TxHash = callErr.TxHash.Hex()
		}
	}
	return e
}

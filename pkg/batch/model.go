package batch

import (
	"fmt"

	"coffeechain/pkg/ledger"
	"coffeechain/pkg/numeric"
)

// Stage is a position in the batch lifecycle.
type Stage uint8

const (
	StageCreated Stage = iota
	StageRoasted
	StageGround
	StagePackaged
	StageDistributed
)

var stageNames = [...]string{"Created", "Roasted", "Ground", "Packaged", "Distributed"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// Batch is a ledger batch normalized for JSON transport.
type Batch struct {
	ID          numeric.Int `json:"id"`
	Origin      string      `json:"origin"`
	Stage       numeric.Int `json:"stage"`
	StageName   string      `json:"stageName"`
	Inventory   numeric.Int `json:"inventory"`
	Distributor string      `json:"distributor"`
	Timestamp   numeric.Int `json:"timestamp"`
}

// Event is a decoded contract event.
type Event struct {
	Name    string      `json:"name"`
	BatchID numeric.Int `json:"batchId"`
}

// Receipt is a mined transaction normalized for JSON transport. Every metadata figure is a
// decimal string.
type Receipt struct {
	TransactionHash   string          `json:"transactionHash"`
	BlockHash         string          `json:"blockHash"`
	BlockNumber       numeric.Decimal `json:"blockNumber"`
	TransactionIndex  numeric.Decimal `json:"transactionIndex"`
	From              string          `json:"from"`
	To                string          `json:"to"`
	GasUsed           numeric.Decimal `json:"gasUsed"`
	CumulativeGasUsed numeric.Decimal `json:"cumulativeGasUsed"`
	EffectiveGasPrice numeric.Decimal `json:"effectiveGasPrice"`
	Status            numeric.Decimal `json:"status"`
	// BatchID is the id named by the receipt's events, e.g. the one assigned by createBatch.
	BatchID *numeric.Int `json:"batchId,omitempty"`
	Events  []Event      `json:"events"`
}

func newBatch(b *ledger.Batch) Batch {
	return Batch{
		ID:          numeric.NewInt(b.ID),
		Origin:      b.Origin,
		Stage:       numeric.IntFromUint64(uint64(b.Stage)),
		StageName:   Stage(b.Stage).String(),
		Inventory:   numeric.NewInt(b.Inventory),
		Distributor: b.Distributor,
		Timestamp:   numeric.NewInt(b.Timestamp),
	}
}

func newReceipt(r *ledger.Receipt) *Receipt {
	out := &Receipt{
		TransactionHash:   r.TxHash.Hex(),
		BlockHash:         r.BlockHash.Hex(),
		BlockNumber:       numeric.NewDecimal(r.BlockNumber),
		TransactionIndex:  numeric.DecimalFromUint64(uint64(r.TransactionIndex)),
		From:              r.From.Hex(),
		To:                r.To.Hex(),
		GasUsed:           numeric.DecimalFromUint64(r.GasUsed),
		CumulativeGasUsed: numeric.DecimalFromUint64(r.CumulativeGasUsed),
		EffectiveGasPrice: numeric.NewDecimal(r.EffectiveGasPrice),
		Status:            numeric.DecimalFromUint64(r.Status),
		Events:            make([]Event, 0, len(r.Events)),
	}
	for _, ev := range r.Events {
		if ev.BatchID == nil {
			continue
		}
		id := numeric.NewInt(ev.BatchID)
		out.Events = append(out.Events, Event{Name: ev.Name, BatchID: id})
		if out.BatchID == nil {
			out.BatchID = &id
		}
	}
	return out
}

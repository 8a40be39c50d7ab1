package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Batch is a snapshot of one batch as the contract reports it.
type Batch struct {
	ID          *big.Int
	Origin      string
	Stage       uint8
	Inventory   *big.Int
	Distributor string
	Timestamp   *big.Int
}

// Event is a contract event decoded from a receipt log.
type Event struct {
	Name    string
	BatchID *big.Int
}

// Receipt is the outcome of a mined, successful transaction.
type Receipt struct {
	TxHash            common.Hash
	BlockHash         common.Hash
	BlockNumber       *big.Int
	TransactionIndex  uint
	From              common.Address
	To                common.Address
	GasUsed           uint64
	CumulativeGasUsed uint64
	EffectiveGasPrice *big.Int
	Status            uint64
	Type              uint8
	Events            []Event
}

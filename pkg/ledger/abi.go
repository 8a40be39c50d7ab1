package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method names.
const (
	MethodCreateBatch     = "createBatch"
	MethodUpdateStage     = "updateStage"
	MethodUpdateInventory = "updateInventory"
	MethodDistributeBatch = "distributeBatch"
	MethodGetBatch        = "getBatch"
	MethodBatchCount      = "batchCount"
)

// Gas ceilings per mutating method. Distribute writes two fields.
const (
	GasCreateBatch     uint64 = 300000
	GasUpdateStage     uint64 = 300000
	GasUpdateInventory uint64 = 300000
	GasDistributeBatch uint64 = 500000
)

// SupplyChainABI is the JSON ABI of the CoffeeSupplyChain contract.
const SupplyChainABI = `[
  {"type":"function","name":"createBatch","stateMutability":"nonpayable",
   "inputs":[{"name":"_origin","type":"string"},{"name":"_inventory","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"updateStage","stateMutability":"nonpayable",
   "inputs":[{"name":"_batchId","type":"uint256"},{"name":"_stage","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"updateInventory","stateMutability":"nonpayable",
   "inputs":[{"name":"_batchId","type":"uint256"},{"name":"_inventory","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"distributeBatch","stateMutability":"nonpayable",
   "inputs":[{"name":"_batchId","type":"uint256"},{"name":"_distributor","type":"string"}],"outputs":[]},
  {"type":"function","name":"getBatch","stateMutability":"view",
   "inputs":[{"name":"_batchId","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"origin","type":"string"},
     {"name":"stage","type":"uint8"},
     {"name":"inventory","type":"uint256"},
     {"name":"distributor","type":"string"},
     {"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"batchCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"BatchCreated","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"origin","type":"string","indexed":false},{"name":"inventory","type":"uint256","indexed":false}]},
  {"type":"event","name":"StageUpdated","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"stage","type":"uint8","indexed":false}]},
  {"type":"event","name":"InventoryUpdated","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"inventory","type":"uint256","indexed":false}]},
  {"type":"event","name":"BatchDistributed","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"distributor","type":"string","indexed":false}]}
]`

// ParseABI parses SupplyChainABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(SupplyChainABI))
}

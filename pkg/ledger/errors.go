package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReverted marks a transaction that was mined with a failed status.
var ErrReverted = errors.New("transaction reverted")

// CallError describes a failed contract call or transaction.
type CallError struct {
	Method string
	// TxHash is set once the transaction reached the node.
	TxHash *common.Hash
	// Reason is the revert reason reported by the contract, if any.
	Reason string
	Err    error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	if e.TxHash != nil {
		fmt.Fprintf(&b, " (tx %s)", e.TxHash.Hex())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Reason != "" && (e.Err == nil || !strings.Contains(e.Err.Error(), e.Reason)) {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// RevertReason extracts the contract's revert reason from err, or "" when none is attached.
func RevertReason(err error) string {
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Reason != "" {
		return callErr.Reason
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason := decodeRevertData(dataErr.ErrorData()); reason != "" {
			return reason
		}
	}
	return ""
}

func decodeRevertData(data any) string {
	var raw []byte
	switch v := data.(type) {
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			return ""
		}
		raw = decoded
	case []byte:
		raw = v
	default:
		return ""
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return ""
	}
	return reason
}

// isRevert reports whether a read-only call failed inside the contract rather than on the wire.
func isRevert(err error) bool {
	if RevertReason(err) != "" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

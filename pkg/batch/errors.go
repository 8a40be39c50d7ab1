package batch

import (
	"errors"
	"fmt"
	"math/big"

	"coffeechain/pkg/ledger"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrLedgerCallFailed   = errors.New("ledger call failed")
)

// Error carries the kind, the failing operation and a message safe to show to API callers.
type Error struct {
	Kind    error
	Op      string
	Message string
	// Err is the ledger cause for ErrLedgerCallFailed.
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// Is makes errors.Is(err, ErrInvalidArgument) and friends work.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func invalidArgument(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}

func preconditionFailed(op string, stage uint8) error {
	return &Error{
		Kind:    ErrPreconditionFailed,
		Op:      op,
		Message: fmt.Sprintf("Batch must be in Packaged state (currently %d)", stage),
	}
}

// ledgerFailure wraps a ledger error, keeping the revert reason in the message when there is one.
func ledgerFailure(op string, err error) *Error {
	msg := err.Error()
	if reason := ledger.RevertReason(err); reason != "" {
		msg = reason
	}
	return &Error{Kind: ErrLedgerCallFailed, Op: op, Message: msg, Err: err}
}

// lockFailure reports a batch lock that could not be taken before anything reached the
// ledger. It shares ErrLedgerCallFailed so deadlines and lock-store outages surface like the
// ledger calls they guard.
func lockFailure(op string, id *big.Int, err error) *Error {
	return &Error{
		Kind:    ErrLedgerCallFailed,
		Op:      op,
		Message: fmt.Sprintf("unable to lock batch %s: %v", id, err),
		Err:     err,
	}
}

// IsInvalidArgument reports whether err is an input validation failure.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsPreconditionFailed reports whether err is a stage precondition failure.
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }

// Message returns the caller-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

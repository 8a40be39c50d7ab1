package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"coffeechain/pkg/batch"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindInvalidArgument    = "invalid_argument"
	kindPreconditionFailed = "precondition_failed"
	kindLedgerCallFailed   = "ledger_call_failed"
	kindInvalidRequest     = "invalid_request"
	kindUnauthorized       = "unauthorized"
	kindRateLimited        = "rate_limited"
	kindTimeout            = "timeout"
	kindNotFound           = "not_found"
	kindInternal           = "internal"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
}

// classify maps a service error onto an HTTP status and kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, batch.ErrInvalidArgument):
		return http.StatusBadRequest, kindInvalidArgument
	case errors.Is(err, batch.ErrPreconditionFailed):
		return http.StatusConflict, kindPreconditionFailed
	case errors.Is(err, batch.ErrLedgerCallFailed):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, kindTimeout
		}
		return http.StatusBadGateway, kindLedgerCallFailed
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeJSON(w, status, errorBody{
		Error:     message,
		Kind:      kind,
		RequestID: RequestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

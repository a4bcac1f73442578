package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service error onto an HTTP status using the
// domain error taxonomy: validation errors are 400, missing resources 404,
// state conflicts 409, and on-chain failures 502/504. Anything unmapped is
// logged and reported as a 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidAgreement),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidSupport),
		errors.Is(err, domain.ErrInvalidParameterRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAvailableBalance),
		errors.Is(err, domain.ErrListingNotActive),
		errors.Is(err, domain.ErrInsufficientSharesAvailable),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrAlreadyVoted),
		errors.Is(err, domain.ErrOutsideVotingWindow),
		errors.Is(err, domain.ErrProposalNotActive),
		errors.Is(err, domain.ErrBelowThreshold),
		errors.Is(err, domain.ErrNotSucceeded),
		errors.Is(err, domain.ErrAlreadyExecuted),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrPlanNotPending),
		errors.Is(err, domain.ErrPlanTokenMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrChainTimeout):
		// A pending settlement carries the tx hash callers quote to
		// POST /api/trades/resolve.
		body := map[string]string{"error": err.Error()}
		var pending *domain.PendingSettlementError
		if errors.As(err, &pending) && pending.TxHash != "" {
			body["tx_hash"] = pending.TxHash
		}
		writeJSON(w, http.StatusGatewayTimeout, body)
	case errors.Is(err, domain.ErrChainReverted):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// parseWei parses a decimal wei amount from a request field. Wei amounts
// travel as strings because they exceed what JSON numbers carry exactly.
func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, domain.ErrInvalidAmount
	}
	return v, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/raworc/tsbx/pkg/auth"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

// errorResponse is the JSON envelope for every non-2xx response.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// httpError pairs a status code with the wire-level error kind from
// spec §7, so every handler maps a domain error to a response with one
// call rather than hand-rolling status codes.
func httpError(c *echo.Context, err error) error {
	kind, status := classify(err)
	return c.JSON(status, &errorResponse{Kind: kind, Message: err.Error()})
}

// classify maps a domain error to its wire-level kind and HTTP status.
// Logical errors (conflict, bad request) are distinguished from
// plumbing failures (database, upstream) because only the latter are
// ever worth retrying — callers of httpError don't need to know which
// package originated the error, only what it means.
func classify(err error) (string, int) {
	var valErr *store.ValidationError
	var sbValErr *sandbox.ValidationError

	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrBlocked), errors.Is(err, errInvalidCredentials):
		return "Unauthorized", http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return "Forbidden", http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sandbox.ErrNotFound):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, sandbox.ErrConflict), errors.Is(err, queue.ErrAtCapacity):
		return "Conflict", http.StatusConflict
	case errors.Is(err, sandbox.ErrBadRequest), errors.As(err, &valErr), errors.As(err, &sbValErr):
		return "BadRequest", http.StatusBadRequest
	case errors.Is(err, store.ErrNoTask), errors.Is(err, queue.ErrNoTaskAvailable):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return "Timeout", http.StatusGatewayTimeout
	case errors.Is(err, ErrGuardrail):
		return "Guardrail", http.StatusUnprocessableEntity
	default:
		return "Internal", http.StatusInternalServerError
	}
}

// Sentinels for error kinds this package originates itself (RBAC
// denial, blocking-response timeout, guardrail refusal) that have no
// natural home in pkg/store or pkg/sandbox.
var (
	ErrForbidden = errors.New("forbidden")
	ErrTimeout   = errors.New("timeout")
	ErrGuardrail = errors.New("refused by policy")

	errMissingBearer      = auth.ErrInvalidToken
	errBlockedPrincipal   = auth.ErrBlocked
	errInvalidCredentials = errors.New("invalid operator credentials")
)

// sbBadRequest builds a BadRequest-classified validation error without
// importing pkg/sandbox just for its ValidationError type.
func sbBadRequest(field, message string) error {
	return &store.ValidationError{Field: field, Message: message}
}

package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raworc/tsbx/pkg/auth"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   string
		wantStatus int
	}{
		{"invalid token", auth.ErrInvalidToken, "Unauthorized", http.StatusUnauthorized},
		{"blocked principal", auth.ErrBlocked, "Unauthorized", http.StatusUnauthorized},
		{"bad credentials", errInvalidCredentials, "Unauthorized", http.StatusUnauthorized},
		{"forbidden", ErrForbidden, "Forbidden", http.StatusForbidden},
		{"store not found", store.ErrNotFound, "NotFound", http.StatusNotFound},
		{"sandbox not found", sandbox.ErrNotFound, "NotFound", http.StatusNotFound},
		{"store conflict", store.ErrConflict, "Conflict", http.StatusConflict},
		{"sandbox conflict", sandbox.ErrConflict, "Conflict", http.StatusConflict},
		{"at capacity", queue.ErrAtCapacity, "Conflict", http.StatusConflict},
		{"sandbox bad request", sandbox.ErrBadRequest, "BadRequest", http.StatusBadRequest},
		{"validation error", &store.ValidationError{Field: "name", Message: "required"}, "BadRequest", http.StatusBadRequest},
		{"no task", store.ErrNoTask, "NotFound", http.StatusNotFound},
		{"no task available", queue.ErrNoTaskAvailable, "NotFound", http.StatusNotFound},
		{"timeout", ErrTimeout, "Timeout", http.StatusGatewayTimeout},
		{"guardrail", ErrGuardrail, "Guardrail", http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), "Internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, status := classify(tt.err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errors.New("layer: " + store.ErrConflict.Error())
	kind, status := classify(wrapped)
	assert.Equal(t, "Internal", kind)
	assert.Equal(t, http.StatusInternalServerError, status)
}

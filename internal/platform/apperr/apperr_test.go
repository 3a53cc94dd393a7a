package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAs_ExtractsThroughWrapChain(t *testing.T) {
	base := New(InsufficientStock, "not enough stock")
	wrapped := fmt.Errorf("saga: reserve failed: %w", base)

	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, InsufficientStock, got.Kind)
}

func TestAs_FalseForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ExternalUnavailable, "payment gateway call failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := map[Kind]int{
		Validation:          http.StatusBadRequest,
		AuthN:               http.StatusUnauthorized,
		AuthZ:               http.StatusForbidden,
		NotFound:            http.StatusNotFound,
		InvalidState:        http.StatusBadRequest,
		InsufficientStock:   http.StatusUnprocessableEntity,
		ExternalUnavailable: http.StatusBadGateway,
		Conflict:            http.StatusBadRequest,
		Internal:            http.StatusInternalServerError,
		Kind("UNKNOWN"):     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

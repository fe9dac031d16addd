package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindConflict:        http.StatusConflict,
		KindRateLimited:     http.StatusTooManyRequests,
		KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
		KindUnauthorized:    http.StatusUnauthorized,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", NotFound("missing"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestAsError(t *testing.T) {
	e := AsError(errors.New("boom"))
	require.NotNil(t, e)
	assert.Equal(t, KindInternal, e.Kind)

	orig := Validation("Column '%s' not found in dataset", "nope")
	assert.Same(t, orig, AsError(orig))
	assert.Equal(t, "Column 'nope' not found in dataset", orig.Message)
}

func TestWithDetails(t *testing.T) {
	e := Validation("bad thresholds").WithDetails(map[string]any{"thresholds": []int{120}})
	assert.Equal(t, []int{120}, e.Details["thresholds"])
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := Internal(inner, "Failed to save analysis artifact")
	assert.ErrorIs(t, e, inner)
}

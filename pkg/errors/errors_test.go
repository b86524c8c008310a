package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	root := stderrors.New("dial tcp: connection refused")
	err := Wrap(root, ErrorTypeConnectorUnavailable, "test connection")

	require.NotNil(t, err)
	assert.True(t, Is(err, root))
	assert.Equal(t, "connector_unavailable: test connection: dial tcp: connection refused", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeStore, "save"))
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "typed", err: New(ErrorTypeConnectorBusy, "busy"), want: ErrorTypeConnectorBusy},
		{name: "wrapped in fmt", err: fmt.Errorf("start: %w", New(ErrorTypeNotFound, "x")), want: ErrorTypeNotFound},
		{name: "plain", err: stderrors.New("boom"), want: ErrorTypeInternal},
		{name: "outermost wins", err: Wrap(New(ErrorTypeNotFound, "x"), ErrorTypeInvalidRequest, "y"), want: ErrorTypeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetType(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnectorUnavailable, "timeout")))
	assert.False(t, IsRetryable(New(ErrorTypeConnectorRejected, "bad record")))
	assert.False(t, IsRetryable(New(ErrorTypeMapping, "missing field")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := Newf(ErrorTypeMapping, "field %q missing", "total").
		WithDetail("field", "total").
		WithDetail("record_ref", "o-7")

	assert.Equal(t, "total", err.Details["field"])
	assert.Equal(t, "o-7", err.Details["record_ref"])
	assert.Equal(t, `mapping: field "total" missing`, err.Error())
}

func TestStackStartsAtCaller(t *testing.T) {
	err := New(ErrorTypeStore, "save failed")
	require.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Stack[0].Function, "TestStackStartsAtCaller")

	wrapped := Wrap(err, ErrorTypeConnectorUnavailable, "retry")
	assert.Equal(t, err.Stack, wrapped.Stack)
}

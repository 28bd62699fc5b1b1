package overlay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayError_WrapAndClassify(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(cause, ErrTimeout, "container not found").WithContext("selector", ".captions")

	assert.True(t, IsErrorType(err, ErrTimeout))
	assert.False(t, IsErrorType(err, ErrRender))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[Timeout]")
	assert.Contains(t, err.Error(), "selector=.captions")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsErrorType(wrapped, ErrTimeout))
}

func TestSafeExecute_RecoversPanics(t *testing.T) {
	err := SafeExecute(func() error {
		panic("bad node")
	})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrUnknown))
	assert.Contains(t, err.Error(), "bad node")

	require.NoError(t, SafeExecute(func() error { return nil }))
}

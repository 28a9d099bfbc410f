package errors

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapIO(t *testing.T) {
	_, cause := os.Open("/definitely/not/here.parquet")
	require.Error(t, cause)

	err := WrapIO(cause, "open artifact", "/definitely/not/here.parquet")

	assert.True(t, Is(err, ErrIO), "IO failures must be classifiable")
	assert.True(t, os.IsNotExist(UnwrapAll(err)), "original cause must survive")
	assert.Contains(t, err.Error(), "open artifact")
	assert.Contains(t, err.Error(), "/definitely/not/here.parquet")

	details := FlattenDetails(err)
	assert.Contains(t, details, "operation=open artifact")
}

func TestWrapIO_Nil(t *testing.T) {
	assert.NoError(t, WrapIO(nil, "op", "path"))
	assert.NoError(t, WrapSerialization(nil, "doc"))
}

func TestWrapSerialization(t *testing.T) {
	err := WrapSerialization(New("unexpected EOF"), "version metadata")
	assert.True(t, Is(err, ErrSerialization))
	assert.False(t, Is(err, ErrIO))
	assert.Contains(t, err.Error(), "version metadata")
}

func TestTaxonomyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NewNotFoundError("dataset %s not found", "abc"), ErrNotFound},
		{"invalid request", NewInvalidRequestError("bad parameter %q", "columns"), ErrInvalidRequest},
		{"invalid transition", NewInvalidTransitionError("parent %s missing", "p1"), ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))
			wrapped := Wrap(tt.err, "outer")
			assert.True(t, Is(wrapped, tt.sentinel), "marker must survive wrapping")
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("boom")))
	assert.True(t, IsNotFoundError(NewNotFoundError("version %d", 3)))
	assert.True(t, IsInvalidRequestError(Wrap(NewInvalidRequestError("x"), "ctx")))
}

func TestStackTrace(t *testing.T) {
	err := WrapIO(New("disk full"), "write artifact", "/tmp/x")
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go", "error should carry a stack trace")
}

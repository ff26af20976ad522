package key

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_UseExposesMaterial(t *testing.T) {
	src := []byte("0123456789abcdef0123456789abcdef")
	want := bytes.Clone(src)

	h, err := NewHandle(src)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(want)), src, "source slice should be wiped")
	assert.Equal(t, 32, h.Len())

	err = h.Use(func(secret []byte) error {
		assert.Equal(t, want, secret)
		return nil
	})
	require.NoError(t, err)
}

func TestHandle_UsePropagatesCallbackError(t *testing.T) {
	h, err := NewHandle([]byte("secret"))
	require.NoError(t, err)
	sentinel := errors.New("boom")
	assert.ErrorIs(t, h.Use(func([]byte) error { return sentinel }), sentinel)
}

func TestHandle_Destroy(t *testing.T) {
	h, err := NewHandle([]byte("secret"))
	require.NoError(t, err)

	h.Destroy()
	h.Destroy()
	assert.True(t, h.Destroyed())
	assert.Equal(t, 0, h.Len())
	assert.ErrorIs(t, h.Use(func([]byte) error { return nil }), ErrDestroyed)
}

func TestHandle_NilIsDestroyed(t *testing.T) {
	var h *Handle
	assert.True(t, h.Destroyed())
	assert.ErrorIs(t, h.Use(func([]byte) error { return nil }), ErrDestroyed)
	h.Destroy()
}

func TestHandle_Clone(t *testing.T) {
	h, err := NewHandle([]byte("secret"))
	require.NoError(t, err)
	c, err := h.Clone()
	require.NoError(t, err)

	h.Destroy()
	require.NoError(t, c.Use(func(secret []byte) error {
		assert.Equal(t, []byte("secret"), secret)
		return nil
	}))
}

func TestHandle_RejectsEmpty(t *testing.T) {
	_, err := NewHandle(nil)
	assert.Error(t, err)
}

func TestHandle_NeverPrintsOrSerializesSecret(t *testing.T) {
	h, err := NewHandle([]byte("hunter2-hunter2"))
	require.NoError(t, err)

	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", h, h, h, h), "hunter2")
	_, err = json.Marshal(struct{ K *Handle }{h})
	assert.Error(t, err)
}

package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	data := []byte("serialized key material")

	wrapped, err := Wrap("s3cret", data)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(wrapped, data))

	plain, err := Unwrap("s3cret", wrapped)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestUnwrapWrongSecret(t *testing.T) {
	wrapped, err := Wrap("s3cret", []byte("material"))
	require.NoError(t, err)

	_, err = Unwrap("other", wrapped)
	assert.ErrorIs(t, err, ErrUnwrap)

	_, err = Unwrap("s3cret", wrapped[:5])
	assert.ErrorIs(t, err, ErrUnwrap)
}

func TestWrapUsesFreshNonce(t *testing.T) {
	a, err := Wrap("s3cret", []byte("x"))
	require.NoError(t, err)
	b, err := Wrap("s3cret", []byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

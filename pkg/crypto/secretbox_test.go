package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	box, err := NewBox("operator-secret")
	require.NoError(t, err)

	sealed, err := box.Seal("AIza-test-key")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "AIza")

	again, err := box.Seal("AIza-test-key")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh nonce")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "AIza-test-key", plain)
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	box, err := NewBox("operator-secret")
	require.NoError(t, err)
	sealed, err := box.Seal("value")
	require.NoError(t, err)

	other, err := NewBox("another-secret")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Open("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Open("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewBox("")
	assert.Error(t, err)
}

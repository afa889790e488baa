package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodecFromIdentity("RoleChat_testhost_tester_StoreKey!", "RoleChat_IV_testhost")

	inputs := []string{
		"hello",
		"a",
		`{"id":"123","name":"Luna"}`,
		strings.Repeat("x", 4096),
		"accents et caractères spéciaux: éàü 日本語 🎭",
		"exactly sixteen b", // crosses a block boundary after padding
	}

	for _, in := range inputs {
		enc, err := codec.Encrypt(in)
		require.NoError(t, err)
		assert.NotEqual(t, in, enc)

		dec, ok := codec.Decrypt(enc)
		assert.True(t, ok)
		assert.Equal(t, in, dec)
	}
}

func TestCodec_Deterministic(t *testing.T) {
	a := NewCodecFromIdentity("machine-a", "iv-a")
	b := NewCodecFromIdentity("machine-a", "iv-a")

	encA, err := a.Encrypt("same plaintext")
	require.NoError(t, err)
	encB, err := b.Encrypt("same plaintext")
	require.NoError(t, err)

	// Same identity always yields the same ciphertext: there is no per-call
	// nonce, which is what makes the on-disk format stable across restarts.
	assert.Equal(t, encA, encB)
}

func TestCodec_EmptyInput(t *testing.T) {
	codec := NewCodecFromIdentity("machine-a", "iv-a")

	enc, err := codec.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, enc)

	dec, ok := codec.Decrypt("")
	assert.False(t, ok)
	assert.Empty(t, dec)
}

func TestCodec_DecryptForeignInput(t *testing.T) {
	codec := NewCodecFromIdentity("machine-a", "iv-a")

	// Legacy unencrypted JSON must pass through unchanged so callers can
	// still decode it.
	legacy := `[{"id":"1","name":"Luna"}]`
	out, ok := codec.Decrypt(legacy)
	assert.False(t, ok)
	assert.Equal(t, legacy, out)

	// Garbage that happens to be valid base64 but not ciphertext.
	out, ok = codec.Decrypt("not-base64!!!")
	assert.False(t, ok)
	assert.Equal(t, "not-base64!!!", out)
}

func TestCodec_DifferentIdentityCannotRead(t *testing.T) {
	a := NewCodecFromIdentity("machine-a", "iv-a")
	b := NewCodecFromIdentity("machine-b", "iv-b")

	enc, err := a.Encrypt("secret session data")
	require.NoError(t, err)

	dec, ok := b.Decrypt(enc)
	if ok {
		// A wrong key can in rare cases produce bytes that still look
		// padded; it must never reproduce the plaintext.
		assert.NotEqual(t, "secret session data", dec)
	} else {
		assert.Equal(t, enc, dec)
	}
}

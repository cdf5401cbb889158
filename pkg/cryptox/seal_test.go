package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize)

	key := DeriveKey([]byte("secret"), salt)
	require.Len(t, key, KeySize)

	// Same inputs derive the same key; different inputs do not.
	require.Equal(t, key, DeriveKey([]byte("secret"), salt))
	require.NotEqual(t, key, DeriveKey([]byte("other"), salt))

	otherSalt, err := NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, key, DeriveKey([]byte("secret"), otherSalt))
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)
	key := DeriveKey([]byte("secret"), salt)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := Seal(key, []byte("refresh-token"))
		require.NoError(t, err)

		plaintext, err := Open(key, sealed)
		require.NoError(t, err)
		require.Equal(t, []byte("refresh-token"), plaintext)
	})

	t.Run("nonces make ciphertexts unique", func(t *testing.T) {
		a, err := Seal(key, []byte("same"))
		require.NoError(t, err)
		b, err := Seal(key, []byte("same"))
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		sealed, err := Seal(key, []byte("value"))
		require.NoError(t, err)

		wrong := DeriveKey([]byte("wrong"), salt)
		_, err = Open(wrong, sealed)
		require.Error(t, err)
	})

	t.Run("tampered ciphertext fails", func(t *testing.T) {
		sealed, err := Seal(key, []byte("value"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xff

		_, err = Open(key, sealed)
		require.Error(t, err)
	})

	t.Run("truncated input fails", func(t *testing.T) {
		_, err := Open(key, []byte("short"))
		require.Error(t, err)
	})
}

// Package cryptox provides the small crypto surface the SDK needs: deriving
// an at-rest key from an operator-supplied secret and sealing/opening short
// values (the persisted refresh token) with authenticated encryption.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// SaltSize is the length of the random salt fed into key derivation.
const SaltSize = 16

// Argon2id parameters. Sized for a client-side store that derives the key
// once per process, not for server-side password verification throughput.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// NewSalt returns a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptox: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches an operator-supplied secret into a 32-byte AES key
// using Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Seal encrypts plaintext with AES-256-GCM under key. The output layout is
// [12-byte nonce][ciphertext][16-byte tag]; a random nonce is generated per
// call.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal, verifying the authentication tag.
func Open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("cryptox: sealed data too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open sealed data: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptox: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create gcm: %w", err)
	}
	return gcm, nil
}

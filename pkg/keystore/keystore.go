// Package keystore persists small named secrets (today: the refresh token)
// to disk with authenticated encryption and a bounded lifetime. It is the
// client-side stand-in for the browser's secure, HttpOnly refresh cookie:
// values are only readable by the owning user (0600 file), sealed under a
// key derived from an operator secret, and expire after a fixed TTL.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/senosalud/clinicsdk/pkg/cryptox"
)

// DefaultTTL matches the 7-day lifetime of the refresh cookie the clinic
// front-end sets.
const DefaultTTL = 7 * 24 * time.Hour

const fileName = "credentials.json"

// Options configures Open.
type Options struct {
	// Dir is the directory holding the keystore file. Created if missing.
	Dir string

	// Secret is the operator-supplied secret the at-rest key is derived from.
	// Required.
	Secret []byte

	// TTL bounds the lifetime of stored entries. Defaults to DefaultTTL.
	TTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store is a file-backed, encrypted secret store. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	key  []byte
	salt []byte
	ttl  time.Duration
	now  func() time.Time
}

type fileEntry struct {
	Sealed    string `json:"sealed"`     // base64(nonce|ciphertext|tag)
	ExpiresAt int64  `json:"expires_at"` // epoch millis
}

type fileFormat struct {
	Salt    string               `json:"salt"` // base64, key-derivation salt
	Entries map[string]fileEntry `json:"entries"`
}

// Open prepares a keystore rooted at opts.Dir. The key-derivation salt is
// created on first use and kept alongside the entries, so the same secret
// opens the store across processes.
func Open(opts Options) (*Store, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("keystore: secret is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("keystore: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	s := &Store{
		path: filepath.Join(opts.Dir, fileName),
		ttl:  ttl,
		now:  now,
	}

	contents, err := s.read()
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(contents.Salt)
	if err != nil || len(salt) != cryptox.SaltSize {
		salt, err = cryptox.NewSalt()
		if err != nil {
			return nil, err
		}
		contents.Salt = base64.StdEncoding.EncodeToString(salt)
		contents.Entries = map[string]fileEntry{}
		if err := s.write(contents); err != nil {
			return nil, err
		}
	}
	s.salt = salt
	s.key = cryptox.DeriveKey(opts.Secret, salt)

	return s, nil
}

// Put seals value under name with the store TTL, replacing any previous
// entry.
func (s *Store) Put(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}

	sealed, err := cryptox.Seal(s.key, []byte(value))
	if err != nil {
		return err
	}

	if contents.Entries == nil {
		contents.Entries = map[string]fileEntry{}
	}
	contents.Entries[name] = fileEntry{
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
		ExpiresAt: s.now().Add(s.ttl).UnixMilli(),
	}
	return s.write(contents)
}

// Get returns the value stored under name. Expired or undecryptable entries
// are deleted and reported as absent.
func (s *Store) Get(name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return "", false, err
	}

	entry, ok := contents.Entries[name]
	if !ok {
		return "", false, nil
	}

	if entry.ExpiresAt > 0 && s.now().UnixMilli() >= entry.ExpiresAt {
		delete(contents.Entries, name)
		return "", false, s.write(contents)
	}

	sealed, err := base64.StdEncoding.DecodeString(entry.Sealed)
	if err == nil {
		var plaintext []byte
		plaintext, err = cryptox.Open(s.key, sealed)
		if err == nil {
			return string(plaintext), true, nil
		}
	}

	// Wrong secret or corrupted file: drop the entry rather than fail every
	// future lookup.
	delete(contents.Entries, name)
	if werr := s.write(contents); werr != nil {
		return "", false, werr
	}
	return "", false, fmt.Errorf("keystore: unseal %q: %w", name, err)
}

// Delete removes the entry stored under name. Deleting an absent entry is
// not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := contents.Entries[name]; !ok {
		return nil
	}
	delete(contents.Entries, name)
	return s.write(contents)
}

func (s *Store) read() (fileFormat, error) {
	var contents fileFormat
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileFormat{Entries: map[string]fileEntry{}}, nil
		}
		return contents, fmt.Errorf("keystore: read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		// Unreadable store file: start over instead of locking the user out.
		return fileFormat{Entries: map[string]fileEntry{}}, nil
	}
	if contents.Entries == nil {
		contents.Entries = map[string]fileEntry{}
	}
	return contents, nil
}

func (s *Store) write(contents fileFormat) error {
	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: encode store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("keystore: replace %s: %w", s.path, err)
	}
	return nil
}

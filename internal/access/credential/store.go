// Package credential persists OAuth credentials encrypted at rest. The whole
// credential map lives in a single AEAD-sealed blob next to a restrictive-
// permission key file; every save re-encrypts and atomically replaces the
// blob so a crash never leaves a partially written credential on disk.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
)

var (
	// ErrNotFound reports that no credential is stored for the provider.
	ErrNotFound = errors.New("credential: not found")

	// ErrCorrupt reports that the credential blob could not be decrypted or
	// decoded. Operator intervention (re-authorization) is required.
	ErrCorrupt = errors.New("credential: store corrupt")
)

// FileStore is the on-disk credential store. Writes are serialized; reads of
// the decrypted map may proceed concurrently.
type FileStore struct {
	path   string
	cipher *cryptox.Cipher

	mu sync.RWMutex
}

// NewFileStore opens a credential store at path using the given cipher.
func NewFileStore(path string, cipher *cryptox.Cipher) *FileStore {
	return &FileStore{path: path, cipher: cipher}
}

// Load decrypts and decodes the whole credential map. An absent file is not
// an error: it returns an empty map, matching first-run behavior.
func (s *FileStore) Load() (map[string]domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *FileStore) load() (map[string]domain.Credential, error) {
	blob, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]domain.Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: read %s: %w", s.path, err)
	}

	plaintext, err := s.cipher.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	creds := map[string]domain.Credential{}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	return creds, nil
}

// Save serializes and re-encrypts the whole map, then atomically replaces
// the blob on disk (write sidecar, rename). The file is owner-only.
func (s *FileStore) Save(creds map[string]domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(creds)
}

func (s *FileStore) save(creds map[string]domain.Credential) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credential: encode: %w", err)
	}

	blob, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("credential: encrypt: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("credential: create dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("credential: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credential: replace %s: %w", s.path, err)
	}
	return nil
}

// Get returns the credential stored for provider, or ErrNotFound.
func (s *FileStore) Get(provider string) (domain.Credential, error) {
	creds, err := s.Load()
	if err != nil {
		return domain.Credential{}, err
	}
	cred, ok := creds[provider]
	if !ok {
		return domain.Credential{}, fmt.Errorf("%w: provider %q", ErrNotFound, provider)
	}
	return cred, nil
}

// Put stores (or replaces) the credential for one provider. The map holds
// exactly one credential per provider.
func (s *FileStore) Put(provider string, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return err
	}
	cred.Provider = provider
	creds[provider] = cred
	return s.save(creds)
}

// Delete removes the credential for provider. Deleting an absent provider is
// a no-op.
func (s *FileStore) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := creds[provider]; !ok {
		return nil
	}
	delete(creds, provider)
	return s.save(creds)
}

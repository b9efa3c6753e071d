package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const (
	keyFileName = ".key"
	keySize     = 32 // SQLCipher raw key
)

// ErrKeyExposed is returned when the key file is readable by group or others.
var ErrKeyExposed = errors.New("ledger key file is accessible by other users")

// FileKeyProvider keeps the ledger key hex-encoded in a 0600 file next to
// the ledger database.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// Path returns the key file path.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

// GetKey reads the key. A file others can read is refused rather than used.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %#o", ErrKeyExposed, p.keyPath, perm)
	}

	data, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(data))
}

// StoreKey writes the key through a temp file so a crash never leaves a
// truncated key behind.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp := p.keyPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, p.keyPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// StaticKeyProvider serves a key given in configuration (storage.key).
type StaticKeyProvider struct {
	hexKey string
}

// NewStaticKeyProvider creates a provider over a hex-encoded key.
func NewStaticKeyProvider(hexKey string) *StaticKeyProvider {
	return &StaticKeyProvider{hexKey: strings.TrimSpace(hexKey)}
}

// GetKey decodes the configured key.
func (p *StaticKeyProvider) GetKey() ([]byte, error) {
	return decodeKey(p.hexKey)
}

// StoreKey always fails: a configured key is never replaced at runtime.
func (p *StaticKeyProvider) StoreKey(key []byte) error {
	return errors.New("configured ledger key is read-only")
}

// KeyExists reports whether a key was configured.
func (p *StaticKeyProvider) KeyExists() bool {
	return p.hexKey != ""
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the ledger key, generating and storing one on first run.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*StaticKeyProvider)(nil)
)

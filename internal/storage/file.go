package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AlexZinkM/pet-wallet/internal/crypto"
	"github.com/AlexZinkM/pet-wallet/internal/model"
)

const (
	storeDirMode = 0o700
	fileExt      = ".cwt"
)

// FileStorage keeps each item in its own password-encrypted envelope file.
type FileStorage struct {
	root     string
	password []byte
	scryptN  int

	mu sync.RWMutex
}

// Option configures a FileStorage
type Option func(*FileStorage)

// WithScryptN overrides the scrypt cost. Only tests should lower it.
func WithScryptN(n int) Option {
	return func(s *FileStorage) {
		s.scryptN = n
	}
}

// NewFileStorage creates the store directory if needed.
// The password is copied; the caller should zero its own slice.
func NewFileStorage(root string, password []byte, opts ...Option) (*FileStorage, error) {
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	s := &FileStorage{
		root:     filepath.Clean(root),
		password: append([]byte(nil), password...),
		scryptN:  crypto.DefaultScryptN,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.root, storeDirMode); err != nil {
		return nil, unavailable(fmt.Errorf("create keystore directory: %w", err))
	}
	return s, nil
}

// GetItem returns the decrypted value; found is false when the item does not exist.
func (s *FileStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	env, err := crypto.ReadEnvelope(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, unavailable(fmt.Errorf("read item %q: %w", key, err))
	}

	plaintext, err := crypto.Open(env, s.password)
	if err != nil {
		return "", false, unavailable(fmt.Errorf("decrypt item %q: %w", key, err))
	}
	defer clear(plaintext) // wipe decrypted bytes from memory

	return string(plaintext), true, nil
}

// SetItem encrypts and writes value, replacing any previous value.
func (s *FileStorage) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	plaintext := []byte(value)
	defer clear(plaintext)

	env, err := crypto.Seal(key, plaintext, s.password, s.scryptN)
	if err != nil {
		return unavailable(fmt.Errorf("encrypt item %q: %w", key, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := crypto.WriteEnvelope(path, env); err != nil {
		return unavailable(fmt.Errorf("write item %q: %w", key, err))
	}
	return nil
}

// DeleteItem removes the item. Deleting a missing item is not an error.
func (s *FileStorage) DeleteItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable(fmt.Errorf("delete item %q: %w", key, err))
	}
	return nil
}

// Keys lists stored item names in sorted order
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, unavailable(fmt.Errorf("list keystore: %w", err))
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Rekey re-encrypts every item under newPassword. Items are decrypted
// first, so a wrong current password leaves the store untouched.
func (s *FileStorage) Rekey(ctx context.Context, newPassword []byte) error {
	if len(newPassword) == 0 {
		return errors.New("password cannot be empty")
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(keys))
	for _, key := range keys {
		value, found, err := s.GetItem(ctx, key)
		if err != nil {
			return err
		}
		if found {
			values[key] = value
		}
	}

	s.mu.Lock()
	clear(s.password)
	s.password = append([]byte(nil), newPassword...)
	s.mu.Unlock()

	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if err := s.SetItem(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Close wipes the in-memory password
func (s *FileStorage) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.password)
}

func (s *FileStorage) pathForKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("item key is empty")
	}
	if strings.ContainsAny(trimmed, `/\`) || strings.HasPrefix(trimmed, ".") {
		return "", fmt.Errorf("invalid item key %q", key)
	}
	return filepath.Join(s.root, trimmed+fileExt), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
}

// Package keystore owns raw secp256k1 key material. Callers only ever
// see KeyHandles and ask the KeyStore to sign on their behalf.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Load when no key is stored under the name
var ErrNotFound = errors.New("key not found")

// ErrUnknownHandle is returned when a handle was erased or never issued by this store
var ErrUnknownHandle = errors.New("unknown key handle")

// SecureStorage is the platform-secured persistence boundary.
type SecureStorage interface {
	GetItem(ctx context.Context, key string) (value string, found bool, err error)
	SetItem(ctx context.Context, key, value string) error
	DeleteItem(ctx context.Context, key string) error
}

// KeyHandle references key material held by a KeyStore.
type KeyHandle struct {
	id        string
	Address   common.Address
	CreatedAt time.Time
	ExpiresAt time.Time // zero for keys without a lifetime
}

// WithExpiry returns a copy of the handle carrying an expiry
func (h KeyHandle) WithExpiry(expiresAt time.Time) KeyHandle {
	h.ExpiresAt = expiresAt
	return h
}

// IsZero reports whether h was never issued
func (h KeyHandle) IsZero() bool {
	return h.id == ""
}

// KeyStore is safe for concurrent use.
type KeyStore struct {
	storage SecureStorage
	now     func() time.Time

	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

func New(storage SecureStorage) *KeyStore {
	return &KeyStore{
		storage: storage,
		now:     time.Now,
		keys:    make(map[string]*ecdsa.PrivateKey),
	}
}

// Generate creates a fresh key held in memory only until Persist is called
func (k *KeyStore) Generate() (KeyHandle, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return KeyHandle{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return k.track(priv, k.now().UTC()), nil
}

// Persist writes the handle's key material under name
func (k *KeyStore) Persist(ctx context.Context, name string, h KeyHandle) error {
	priv, err := k.key(h)
	if err != nil {
		return err
	}

	record := model.KeyRecord{
		PrivateKey: crypto.FromECDSA(priv),
		CreatedAt:  h.CreatedAt.Format(time.RFC3339Nano),
	}
	defer clear(record.PrivateKey)
	if !h.ExpiresAt.IsZero() {
		record.ExpiresAt = h.ExpiresAt.Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %w", err)
	}
	defer clear(data)

	if err := k.storage.SetItem(ctx, name, string(data)); err != nil {
		return fmt.Errorf("failed to persist key %q: %w", name, err)
	}
	return nil
}

// Load returns the key stored under name, or ErrNotFound
func (k *KeyStore) Load(ctx context.Context, name string) (KeyHandle, error) {
	value, found, err := k.storage.GetItem(ctx, name)
	if err != nil {
		return KeyHandle{}, fmt.Errorf("failed to load key %q: %w", name, err)
	}
	if !found {
		return KeyHandle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var record model.KeyRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return KeyHandle{}, fmt.Errorf("failed to unmarshal key %q: %w", name, err)
	}
	defer clear(record.PrivateKey)

	priv, err := crypto.ToECDSA(record.PrivateKey)
	if err != nil {
		return KeyHandle{}, fmt.Errorf("invalid key material for %q: %w", name, err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, record.CreatedAt)
	if err != nil {
		return KeyHandle{}, fmt.Errorf("invalid createdAt for %q: %w", name, err)
	}

	h := k.track(priv, createdAt)
	if record.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, record.ExpiresAt)
		if err != nil {
			k.Release(h)
			return KeyHandle{}, fmt.Errorf("invalid expiresAt for %q: %w", name, err)
		}
		h.ExpiresAt = expiresAt
	}
	return h, nil
}

// Erase deletes the stored item. It does not release handles; use Release for that.
func (k *KeyStore) Erase(ctx context.Context, name string) error {
	if err := k.storage.DeleteItem(ctx, name); err != nil {
		return fmt.Errorf("failed to erase key %q: %w", name, err)
	}
	return nil
}

// Release drops the in-memory key for h and zeroes it
func (k *KeyStore) Release(h KeyHandle) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if priv, ok := k.keys[h.id]; ok {
		priv.D.SetInt64(0)
		delete(k.keys, h.id)
	}
}

// SignHash signs a 32-byte digest. The recovery id is returned as 27/28.
func (k *KeyStore) SignHash(h KeyHandle, digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	priv, err := k.key(h)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTx signs a transaction with the handle's key
func (k *KeyStore) SignTx(h KeyHandle, tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	priv, err := k.key(h)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, signer, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (k *KeyStore) track(priv *ecdsa.PrivateKey, createdAt time.Time) KeyHandle {
	id := uuid.NewString()

	k.mu.Lock()
	k.keys[id] = priv
	k.mu.Unlock()

	return KeyHandle{
		id:        id,
		Address:   crypto.PubkeyToAddress(priv.PublicKey),
		CreatedAt: createdAt,
	}
}

func (k *KeyStore) key(h KeyHandle) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	priv, ok := k.keys[h.id]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return priv, nil
}

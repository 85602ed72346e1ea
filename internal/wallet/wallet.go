// Package wallet manages the owner account and the rotating session
// account that signs relay intents on its behalf.
//
// Lifecycle:
//
//	Uninitialized -> OwnerReady -> SessionReady -> Delegated
//	                                    ^              |
//	                                    +-- SessionExpired
//
// The owner key only authorizes delegation and signs fallback
// transactions. Session keys live for exactly SessionLifetime and are
// discarded, never reused, once expired.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	"github.com/AlexZinkM/pet-wallet/internal/keystore"
	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SessionLifetime is fixed; every session expires exactly this long after creation
const SessionLifetime = 24 * time.Hour

const (
	ownerKeyName   = "owner.key"
	sessionKeyName = "session.key"
	delegationItem = "delegation.marker"
)

// ErrOwnerNotReady is returned when a session is requested before InitOwner
var ErrOwnerNotReady = errors.New("owner account not initialized")

// DelegationRelay is the part of the relay protocol the wallet drives
type DelegationRelay interface {
	PrepareDelegate(ctx context.Context, owner, target common.Address, keys ...client.KeyAuthorization) (*client.DelegationContext, error)
	CommitDelegate(ctx context.Context, dc *client.DelegationContext, sigs client.DelegationSignatures) error
}

// OwnerAccount is the long-lived key
type OwnerAccount struct {
	Address common.Address
	handle  keystore.KeyHandle
}

// SessionAccount is the short-lived delegated key
type SessionAccount struct {
	Address   common.Address
	CreatedAt time.Time
	ExpiresAt time.Time
	handle    keystore.KeyHandle
}

// ValidAt reports whether the session can sign at t
func (s SessionAccount) ValidAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}

// Wallet is safe for concurrent use
type Wallet struct {
	keys        *keystore.KeyStore
	items       keystore.SecureStorage
	now         func() time.Time
	permissions []client.Permission
	logger      *zap.Logger

	mu      sync.RWMutex
	state   State
	owner   *OwnerAccount
	session *SessionAccount
	marker  *model.DelegationMarker

	setup singleflight.Group
}

// Option configures a Wallet
type Option func(*Wallet)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) {
		w.now = now
	}
}

// WithPermissions sets the call permissions granted to each session key
func WithPermissions(permissions []client.Permission) Option {
	return func(w *Wallet) {
		w.permissions = permissions
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wallet) {
		w.logger = logger
	}
}

// New creates an uninitialized wallet. items holds non-key wallet
// state (the delegation marker); it is usually the keystore's own storage.
func New(keys *keystore.KeyStore, items keystore.SecureStorage, opts ...Option) *Wallet {
	w := &Wallet{
		keys:   keys,
		items:  items,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state
func (w *Wallet) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stateLocked()
}

func (w *Wallet) stateLocked() State {
	if (w.state == SessionReady || w.state == Delegated) && !w.session.ValidAt(w.now()) {
		return SessionExpired
	}
	return w.state
}

// InitOwner loads the persisted owner or generates and persists a new one.
// Repeated calls return the same account.
func (w *Wallet) InitOwner(ctx context.Context) (OwnerAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.owner != nil {
		return *w.owner, nil
	}

	h, err := w.keys.Load(ctx, ownerKeyName)
	switch {
	case err == nil:
		w.logger.Info("owner account loaded", zap.String("owner", h.Address.Hex()))
	case errors.Is(err, keystore.ErrNotFound):
		h, err = w.keys.Generate()
		if err != nil {
			return OwnerAccount{}, err
		}
		if err := w.keys.Persist(ctx, ownerKeyName, h); err != nil {
			w.keys.Release(h)
			return OwnerAccount{}, fmt.Errorf("failed to persist owner: %w", err)
		}
		w.logger.Info("owner account created", zap.String("owner", h.Address.Hex()))
	default:
		return OwnerAccount{}, fmt.Errorf("failed to init owner: %w", err)
	}

	w.owner = &OwnerAccount{Address: h.Address, handle: h}
	if w.state == Uninitialized {
		w.state = OwnerReady
	}
	return *w.owner, nil
}

// InitSession generates a new session key and discards the previous one.
// The new key is not delegated until AuthorizeDelegation succeeds again.
func (w *Wallet) InitSession(ctx context.Context) (SessionAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initSessionLocked(ctx)
}

func (w *Wallet) initSessionLocked(ctx context.Context) (SessionAccount, error) {
	if w.owner == nil {
		return SessionAccount{}, ErrOwnerNotReady
	}

	h, err := w.keys.Generate()
	if err != nil {
		return SessionAccount{}, err
	}
	createdAt := w.now().UTC()
	h.CreatedAt = createdAt
	h = h.WithExpiry(createdAt.Add(SessionLifetime))

	if err := w.keys.Persist(ctx, sessionKeyName, h); err != nil {
		w.keys.Release(h)
		return SessionAccount{}, fmt.Errorf("failed to persist session: %w", err)
	}
	if err := w.items.DeleteItem(ctx, delegationItem); err != nil {
		return SessionAccount{}, fmt.Errorf("failed to clear delegation marker: %w", err)
	}

	if w.session != nil {
		w.keys.Release(w.session.handle)
	}
	w.session = &SessionAccount{
		Address:   h.Address,
		CreatedAt: h.CreatedAt,
		ExpiresAt: h.ExpiresAt,
		handle:    h,
	}
	w.marker = nil
	w.state = SessionReady

	w.logger.Info("session key rotated",
		zap.String("session", h.Address.Hex()),
		zap.Time("expiresAt", h.ExpiresAt),
	)
	return *w.session, nil
}

// IsSessionValid reports whether the current session can still sign
func (w *Wallet) IsSessionValid() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session != nil && w.session.ValidAt(w.now())
}

// EnsureSession returns the current session, rotating it first if it is
// missing or expired.
func (w *Wallet) EnsureSession(ctx context.Context) (SessionAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session != nil && w.session.ValidAt(w.now()) {
		return *w.session, nil
	}
	return w.initSessionLocked(ctx)
}

// Owner returns the owner account if initialized
func (w *Wallet) Owner() (OwnerAccount, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.owner == nil {
		return OwnerAccount{}, false
	}
	return *w.owner, true
}

// Session returns the current session account, valid or not
func (w *Wallet) Session() (SessionAccount, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.session == nil {
		return SessionAccount{}, false
	}
	return *w.session, true
}

// AuthorizeDelegation binds the owner to target and authorizes the
// current session key. The wallet becomes Delegated only after the
// relay acknowledges the commit. Concurrent callers share one setup,
// which runs detached from any single caller's cancellation; each caller
// stops waiting when its own ctx is done.
func (w *Wallet) AuthorizeDelegation(ctx context.Context, relay DelegationRelay, target common.Address) error {
	setupCtx := context.WithoutCancel(ctx)
	ch := w.setup.DoChan("delegation", func() (interface{}, error) {
		return nil, w.authorize(setupCtx, relay, target)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (w *Wallet) authorize(ctx context.Context, relay DelegationRelay, target common.Address) error {
	w.mu.RLock()
	owner, session := w.owner, w.session
	state := w.stateLocked()
	w.mu.RUnlock()

	if owner == nil {
		return ErrOwnerNotReady
	}
	if session == nil || state == SessionExpired {
		return model.ErrSessionExpired
	}
	if state == Delegated {
		return nil
	}

	keyAuth := client.NewSessionKeyAuthorization(session.Address, session.ExpiresAt, w.permissions)
	dc, err := relay.PrepareDelegate(ctx, owner.Address, target, keyAuth)
	if err != nil {
		return fmt.Errorf("failed to prepare delegation: %w", err)
	}
	if dc.Owner != owner.Address {
		return fmt.Errorf("%w: delegation context is for %s, not %s", model.ErrInvalidParams, dc.Owner.Hex(), owner.Address.Hex())
	}

	authSig, err := w.keys.SignHash(owner.handle, dc.AuthDigest.Bytes())
	if err != nil {
		return fmt.Errorf("failed to sign auth digest: %w", err)
	}
	execSig, err := w.keys.SignHash(owner.handle, dc.ExecDigest.Bytes())
	if err != nil {
		return fmt.Errorf("failed to sign exec digest: %w", err)
	}

	if err := relay.CommitDelegate(ctx, dc, client.DelegationSignatures{Auth: authSig, Exec: execSig}); err != nil {
		return fmt.Errorf("failed to commit delegation: %w", err)
	}

	marker := &model.DelegationMarker{
		Owner:      owner.Address.Hex(),
		Session:    session.Address.Hex(),
		Target:     target.Hex(),
		AcceptedAt: w.now().UTC().Format(time.RFC3339),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// A rotation while the relay was answering leaves the new session unauthorized
	if w.session == nil || w.session.Address != session.Address {
		return fmt.Errorf("%w: session rotated during delegation", model.ErrSessionExpired)
	}
	if err := w.saveMarker(ctx, marker); err != nil {
		return err
	}
	w.marker = marker
	w.state = Delegated

	w.logger.Info("delegation accepted by relay",
		zap.String("owner", owner.Address.Hex()),
		zap.String("session", session.Address.Hex()),
		zap.String("target", target.Hex()),
	)
	return nil
}

// DelegationDeployed reports whether a submitted intent has already
// deployed the delegation on chain
func (w *Wallet) DelegationDeployed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.marker != nil && w.marker.Deployed
}

// MarkDeployed records that the delegation is live on chain
func (w *Wallet) MarkDeployed(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.marker == nil || w.marker.Deployed {
		return nil
	}
	updated := *w.marker
	updated.Deployed = true
	if err := w.saveMarker(ctx, &updated); err != nil {
		return err
	}
	w.marker = &updated
	return nil
}

// Restore reloads the owner and, if still valid, the persisted session
// and its delegation marker. An expired persisted session is erased.
func (w *Wallet) Restore(ctx context.Context) error {
	owner, err := w.InitOwner(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	h, err := w.keys.Load(ctx, sessionKeyName)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	session := SessionAccount{Address: h.Address, CreatedAt: h.CreatedAt, ExpiresAt: h.ExpiresAt, handle: h}
	if h.ExpiresAt.IsZero() || !session.ValidAt(w.now()) {
		w.keys.Release(h)
		if err := w.keys.Erase(ctx, sessionKeyName); err != nil {
			return err
		}
		if err := w.items.DeleteItem(ctx, delegationItem); err != nil {
			return fmt.Errorf("failed to clear delegation marker: %w", err)
		}
		w.logger.Info("discarded expired session", zap.String("session", h.Address.Hex()))
		return nil
	}

	w.session = &session
	w.state = SessionReady

	marker, err := w.loadMarker(ctx)
	if err != nil {
		return err
	}
	if marker != nil && marker.Owner == owner.Address.Hex() && marker.Session == session.Address.Hex() {
		w.marker = marker
		w.state = Delegated
	}

	w.logger.Info("session restored",
		zap.String("session", session.Address.Hex()),
		zap.Stringer("state", w.state),
	)
	return nil
}

func (w *Wallet) saveMarker(ctx context.Context, marker *model.DelegationMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal delegation marker: %w", err)
	}
	if err := w.items.SetItem(ctx, delegationItem, string(data)); err != nil {
		return fmt.Errorf("failed to persist delegation marker: %w", err)
	}
	return nil
}

func (w *Wallet) loadMarker(ctx context.Context) (*model.DelegationMarker, error) {
	value, found, err := w.items.GetItem(ctx, delegationItem)
	if err != nil {
		return nil, fmt.Errorf("failed to load delegation marker: %w", err)
	}
	if !found {
		return nil, nil
	}
	var marker model.DelegationMarker
	if err := json.Unmarshal([]byte(value), &marker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delegation marker: %w", err)
	}
	return &marker, nil
}

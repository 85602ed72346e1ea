package wallet

import (
	"github.com/AlexZinkM/pet-wallet/internal/keystore"
	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs with one wallet key. Session signers re-check validity
// on every signature.
type Signer struct {
	w       *Wallet
	handle  keystore.KeyHandle
	session bool
}

// OwnerSigner returns a signer for the owner key
func (w *Wallet) OwnerSigner() (Signer, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.owner == nil {
		return Signer{}, ErrOwnerNotReady
	}
	return Signer{w: w, handle: w.owner.handle}, nil
}

// SessionSigner returns a signer for the current, still valid session key
func (w *Wallet) SessionSigner() (Signer, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.session == nil || !w.session.ValidAt(w.now()) {
		return Signer{}, model.ErrSessionExpired
	}
	return Signer{w: w, handle: w.session.handle, session: true}, nil
}

func (s Signer) Address() common.Address {
	return s.handle.Address
}

// IsSession reports whether this signer holds a session key
func (s Signer) IsSession() bool {
	return s.session
}

// SignHash signs a 32-byte digest
func (s Signer) SignHash(digest []byte) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.w.keys.SignHash(s.handle, digest)
}

// SignTx signs a transaction
func (s Signer) SignTx(tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.w.keys.SignTx(s.handle, tx, signer)
}

func (s Signer) check() error {
	if s.w == nil {
		return keystore.ErrUnknownHandle
	}
	if !s.session {
		return nil
	}
	s.w.mu.RLock()
	defer s.w.mu.RUnlock()
	if s.w.session == nil || s.w.session.Address != s.handle.Address || !s.w.session.ValidAt(s.w.now()) {
		return model.ErrSessionExpired
	}
	return nil
}

package client

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	KeyTypeSecp256k1 = "secp256k1"

	RoleAdmin  = "admin"
	RoleNormal = "normal"

	PermissionCall = "call"
)

// Relay status vocabulary
const (
	StatusPending          = 100
	StatusSuccess          = 200
	StatusFailureThreshold = 300
)

var hexQuantity = regexp.MustCompile(`^0x(0|[1-9a-f][0-9a-f]*)$`)

// KeyDescriptor identifies a signing key to the relay
type KeyDescriptor struct {
	Type      string        `json:"type"`
	PublicKey hexutil.Bytes `json:"publicKey"`
	Prehash   bool          `json:"prehash"`
}

// Secp256k1Key describes an EOA key; the relay expects the address left-padded to 32 bytes
func Secp256k1Key(addr common.Address) KeyDescriptor {
	return KeyDescriptor{
		Type:      KeyTypeSecp256k1,
		PublicKey: common.LeftPadBytes(addr.Bytes(), 32),
	}
}

// Permission scopes what an authorized key may call
type Permission struct {
	Type     string         `json:"type"`
	Selector string         `json:"selector"`
	To       common.Address `json:"to"`
}

// KeyAuthorization is one entry of capabilities.authorizeKeys
type KeyAuthorization struct {
	Expiry      string        `json:"expiry"`
	Prehash     bool          `json:"prehash"`
	PublicKey   hexutil.Bytes `json:"publicKey"`
	Role        string        `json:"role"`
	Type        string        `json:"type"`
	Permissions []Permission  `json:"permissions"`
}

// NewSessionKeyAuthorization builds the authorization for a session key.
// Expiry is encoded as a 0x-prefixed hex quantity of unix seconds.
func NewSessionKeyAuthorization(session common.Address, expiresAt time.Time, permissions []Permission) KeyAuthorization {
	return KeyAuthorization{
		Expiry:      EncodeExpiry(expiresAt),
		Prehash:     false,
		PublicKey:   common.LeftPadBytes(session.Bytes(), 32),
		Role:        RoleNormal,
		Type:        KeyTypeSecp256k1,
		Permissions: permissions,
	}
}

// EncodeExpiry renders an expiry timestamp the way the relay requires
func EncodeExpiry(t time.Time) string {
	return hexutil.EncodeUint64(uint64(t.Unix()))
}

// Validate checks the fields the relay refuses silently or with an opaque error
func (a KeyAuthorization) Validate() error {
	if !hexQuantity.MatchString(a.Expiry) {
		return fmt.Errorf("%w: expiry %q must be a 0x-prefixed hex quantity", model.ErrInvalidParams, a.Expiry)
	}
	if len(a.PublicKey) == 0 {
		return fmt.Errorf("%w: public key is empty", model.ErrInvalidParams)
	}
	if a.Type == "" || a.Role == "" {
		return fmt.Errorf("%w: key type and role are required", model.ErrInvalidParams)
	}
	return nil
}

// DelegationContext is returned by PrepareDelegate and consumed exactly
// once by CommitDelegate. It is bound to the owner that requested it.
type DelegationContext struct {
	Owner      common.Address
	Target     common.Address
	AuthDigest common.Hash
	ExecDigest common.Hash
	TypedData  json.RawMessage
	Raw        json.RawMessage

	consumed atomic.Bool
}

// DelegationSignatures are the owner's signatures over both digests
type DelegationSignatures struct {
	Auth hexutil.Bytes `json:"auth"`
	Exec hexutil.Bytes `json:"exec"`
}

// PreparedIntent is the relay's answer to PrepareCalls. Context is
// opaque and must be passed back unmodified.
type PreparedIntent struct {
	Digest    *common.Hash
	TypedData json.RawMessage
	Context   json.RawMessage
	Key       KeyDescriptor
}

// SigningHash returns the hash the signer must sign: the relay digest
// if present, otherwise the EIP-712 hash of the typed data.
func (p *PreparedIntent) SigningHash() ([]byte, error) {
	if p.Digest != nil && *p.Digest != (common.Hash{}) {
		return p.Digest.Bytes(), nil
	}
	if len(p.TypedData) == 0 {
		return nil, fmt.Errorf("%w: prepared intent has neither digest nor typed data", model.ErrInvalidParams)
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(p.TypedData, &typedData); err != nil {
		return nil, fmt.Errorf("%w: decode typed data: %w", model.ErrInvalidParams, err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("%w: hash typed data: %w", model.ErrInvalidParams, err)
	}
	return hash, nil
}

// CallState is the internal three-way status of a bundle
type CallState int

const (
	CallPending CallState = iota
	CallSuccess
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallSuccess:
		return "success"
	case CallFailed:
		return "failed"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// StateForCode maps the relay's numeric status onto CallState.
// Anything at or above the failure threshold is terminal failure.
func StateForCode(code int) CallState {
	switch {
	case code >= StatusFailureThreshold:
		return CallFailed
	case code == StatusSuccess:
		return CallSuccess
	default:
		return CallPending
	}
}

// CallsStatus is the decoded answer to GetCallsStatus
type CallsStatus struct {
	Code     int
	State    CallState
	Receipts []model.Receipt
}

package model

// EnvelopeFile represents one encrypted secure-storage item on disk
type EnvelopeFile struct {
	Key        string `json:"key"`
	ScryptN    int    `json:"scryptN,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipherText"`
}

// KeyRecord represents decrypted key material as persisted by the keystore
type KeyRecord struct {
	PrivateKey []byte `json:"privateKey"` // 32 bytes secp256k1 scalar (stored as base64 in JSON)
	CreatedAt  string `json:"createdAt"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

// DelegationMarker records that the relay accepted a delegation setup
type DelegationMarker struct {
	Owner      string `json:"owner"`
	Session    string `json:"session"`
	Target     string `json:"target"`
	AcceptedAt string `json:"acceptedAt"`
	Deployed   bool   `json:"deployed"`
}

// OwnerResponse represents response for GET /wallet/owner
type OwnerResponse struct {
	Address string `json:"address"`
	Balance string `json:"balanceEth"`
	QR      string `json:"QR"`
	State   string `json:"state"`

	Currency string `json:"currency,omitempty"`
	Rate     string `json:"rate,omitempty"`
	Fiat     string `json:"fiat,omitempty"` // balance * rate
}

// SessionResponse represents response for POST /wallet/session
type SessionResponse struct {
	Address   string `json:"address"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

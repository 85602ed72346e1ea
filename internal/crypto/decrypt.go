package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/AlexZinkM/pet-wallet/internal/model"
)

// ErrInvalidPassword is returned when an envelope fails authentication
var ErrInvalidPassword = errors.New("invalid password")

// Open decrypts an envelope.
// password must be []byte for security (caller should zero it after use)
func Open(env *model.EnvelopeFile, password []byte) ([]byte, error) {
	// Decode salt, nonce and ciphertext
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	scryptN := env.ScryptN
	if scryptN <= 0 {
		scryptN = DefaultScryptN
	}

	aesGCM, err := newGCM(password, salt, scryptN)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, []byte(env.Key))
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}

// ReadEnvelope reads an envelope file (without decryption).
// A missing file is reported as os.ErrNotExist.
func ReadEnvelope(filePath string) (*model.EnvelopeFile, error) {
	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	if len(fileData) == 0 {
		return nil, errors.New("file is empty")
	}

	// Skip UTF-8 BOM if present
	fileData = bytes.TrimPrefix(fileData, utf8BOM)

	var env model.EnvelopeFile
	if err := json.Unmarshal(fileData, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &env, nil
}

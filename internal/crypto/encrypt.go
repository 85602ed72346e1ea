package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/AlexZinkM/pet-wallet/internal/model"

	"golang.org/x/crypto/scrypt"
)

const (
	// scrypt parameters for the local keystore
	// Security is prioritized over performance
	//
	// N=2^18 (~256MB RAM, 0.5-2s) keeps brute force expensive while
	// staying inside mobile per-app memory limits (~256-512MB).
	DefaultScryptN = 1 << 18
	scryptR        = 8
	scryptP        = 1
	scryptKeyLen   = 32
	saltLen        = 32
	nonceLen       = 12
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Seal encrypts plaintext under a key derived from password.
// password must be []byte for security (caller should zero it after use)
func Seal(key string, plaintext, password []byte, scryptN int) (*model.EnvelopeFile, error) {
	if scryptN <= 0 {
		scryptN = DefaultScryptN
	}

	// Generate salt and nonce
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesGCM, err := newGCM(password, salt, scryptN)
	if err != nil {
		return nil, err
	}

	// Item key is bound as additional data so envelopes cannot be swapped between names
	ciphertext := aesGCM.Seal(nil, nonce, plaintext, []byte(key))

	return &model.EnvelopeFile{
		Key:        key,
		ScryptN:    scryptN,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// WriteEnvelope writes an envelope to disk with owner-only permissions
func WriteEnvelope(filePath string, env *model.EnvelopeFile) error {
	fileData, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	// Add UTF-8 BOM for proper display in Windows
	fileDataWithBOM := append(append([]byte{}, utf8BOM...), fileData...)

	// Write to a temp file first so a crash never leaves a torn envelope
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, fileDataWithBOM, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

func newGCM(password, salt []byte, scryptN int) (cipher.AEAD, error) {
	// Derive key from password
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	// Create AES cipher
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

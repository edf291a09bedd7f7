// Package vault implements the per-user encryption scheme protecting
// stored credentials. Each owner gets a deterministic AES-256 key
// derived from their ID and a process-wide secret; secrets are sealed
// with AES-GCM and stored base64-encoded.
//
// Known limitation: the derivation is unsalted and unversioned, so the
// key for an owner never changes and there is no rotation path. Fixing
// this requires re-encrypting every stored secret under a new blob
// format, which existing deployments cannot absorb transparently.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var (
	// ErrNoOwner is returned when a key is requested for a record that
	// has no owner yet.
	ErrNoOwner = errors.New("vault: account has no owner")

	// ErrDecrypt is returned when ciphertext is malformed, tampered
	// with, or sealed under a different key. Decryption never returns
	// partial plaintext.
	ErrDecrypt = errors.New("vault: decryption failed")
)

const keySize = 32

// Vault derives owner keys from a process-wide secret.
type Vault struct {
	secret string
}

func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: encryption secret is empty")
	}
	return &Vault{secret: secret}, nil
}

// KeyFor derives the 32-byte AES key for an owner. The derivation is
// deterministic: the same owner and secret always produce the same key,
// so ciphertext survives process restarts.
func (v *Vault) KeyFor(ownerID uuid.UUID) ([]byte, error) {
	if ownerID == uuid.Nil {
		return nil, ErrNoOwner
	}
	sum := sha256.Sum256([]byte(ownerID.String() + "_" + v.secret))
	return sum[:], nil
}

// Encrypt seals plaintext with AES-256-GCM under key and returns
// base64(nonce || ciphertext || tag), safe for a text column.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != keySize {
		return "", fmt.Errorf("vault: key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An empty input decodes to an empty string:
// an account whose password was never set has nothing to reveal. Any
// other failure surfaces as ErrDecrypt.
func Decrypt(encoded string, key []byte) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if len(key) != keySize {
		return "", fmt.Errorf("vault: key must be %d bytes, got %d", keySize, len(key))
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	ns := aesgcm.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := data[:ns], data[ns:]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecrypt, "integrity check failed")
	}
	return string(plaintext), nil
}

// EncryptFor derives the owner's key and encrypts in one step.
func (v *Vault) EncryptFor(ownerID uuid.UUID, plaintext string) (string, error) {
	key, err := v.KeyFor(ownerID)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, key)
}

// DecryptFor derives the owner's key and decrypts in one step.
func (v *Vault) DecryptFor(ownerID uuid.UUID, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	key, err := v.KeyFor(ownerID)
	if err != nil {
		return "", err
	}
	return Decrypt(encoded, key)
}

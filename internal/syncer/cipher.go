package syncer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	syncerrors "github.com/marksync/marksync/internal/errors"
)

const (
	// scrypt parameters: interactive-grade, the password is entered once
	// at startup.
	scryptN = 32768
	scryptR = 8
	scryptP = 1

	keySize   = 32
	nonceSize = 12
)

// Cipher encrypts collection payloads before upload so the remote store
// only ever holds ciphertext. Wire format: [12-byte nonce][ciphertext
// with GCM tag]. A nil *Cipher means sync in plaintext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a key from the password and salt and returns a
// ready cipher. The password is NFKC-normalized first so the same
// passphrase typed on different platforms derives the same key.
func NewCipher(password, salt string) (*Cipher, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption password must not be empty")
	}

	normalized := norm.NFKC.String(password)
	saltSum := sha256.Sum256([]byte(norm.NFKC.String(salt)))

	key, err := scrypt.Key([]byte(normalized), saltSum[:], scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a sealed payload. Failure means the payload was
// tampered with, truncated, or written under a different password, all
// of which the engine treats as an integrity failure.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", syncerrors.ErrIntegrity)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting payload: %v", syncerrors.ErrIntegrity, err)
	}

	return plaintext, nil
}

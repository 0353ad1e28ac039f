package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

const (
	// blobVersion is the version byte for the encrypted blob format.
	blobVersion = 0x01

	// nonceSize is the AES-GCM nonce size (12 bytes is standard)
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32

	// minMasterKeySize is the shortest master secret accepted for derivation.
	minMasterKeySize = 16
)

// hkdfInfo binds derived keys to this use so the same master secret can
// safely derive keys for other purposes.
var hkdfInfo = []byte("marketlink credential vault v1")

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrWeakMasterKey is returned when the master secret is too short.
	ErrWeakMasterKey = errors.New("master key must be at least 16 bytes")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported credential blob version")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("failed to decrypt credential blob")
)

// AESCipher encrypts credential blobs with AES-256-GCM.
// The encrypted format is: version(1) || nonce(12) || ciphertext(N)
type AESCipher struct {
	gcm cipher.AEAD
}

var _ driven.Cipher = (*AESCipher)(nil)

// NewAESCipher creates a cipher with the given 32-byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &AESCipher{gcm: gcm}, nil
}

// NewCipherFromMasterKey derives the AES key from a master secret with
// HKDF-SHA256. salt may be nil.
func NewCipherFromMasterKey(master, salt []byte) (*AESCipher, error) {
	key, err := DeriveKey(master, salt)
	if err != nil {
		return nil, err
	}
	return NewAESCipher(key)
}

// DeriveKey expands a master secret into a 32-byte key.
func DeriveKey(master, salt []byte) ([]byte, error) {
	if len(master) < minMasterKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrWeakMasterKey, len(master))
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext into a versioned blob.
func (c *AESCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.gcm.Overhead())
	blob[0] = blobVersion
	copy(blob[1:], nonce)

	return c.gcm.Seal(blob, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *AESCipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < 1+nonceSize+c.gcm.Overhead() {
		return nil, ErrInvalidBlobSize
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	plaintext, err := c.gcm.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

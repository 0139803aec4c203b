package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/visage-project/visage/internal/logging"
)

// KeySize is the size in bytes of the AES-256-GCM encryption key.
const KeySize = 32

// legacyEmbeddingBytes is the raw byte length of an unencrypted 512 x
// float32 embedding. Rows of exactly this length predate encryption and
// are read back as plaintext (spec.md §4.4 "Backward compatibility").
const legacyEmbeddingBytes = 512 * 4

// keyFilePath returns the encryption key's path beside the database file,
// per spec.md §6 ("{dirname(DB_PATH)}/.key").
func keyFilePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), ".key")
}

// loadOrCreateKey reads the per-installation AES-256-GCM key beside the
// database, generating and persisting one with mode 0600 on first start
// if absent. The key is read once at open and held for the store's
// lifetime (spec.md §4.5 "Shared resources").
func loadOrCreateKey(dbPath string) ([KeySize]byte, error) {
	var key [KeySize]byte
	path := keyFilePath(dbPath)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != KeySize {
			return key, fmt.Errorf("store: key file %s has %d bytes, want %d", path, len(data), KeySize)
		}
		copy(key[:], data)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return key, fmt.Errorf("store: reading key file %s: %w", path, err)
	}

	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("store: generating encryption key: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, fmt.Errorf("store: writing key file %s: %w", path, err)
	}
	logging.Component("store").WithField("path", path).Info("generated encryption key")
	return key, nil
}

// encryptEmbedding seals raw embedding bytes under a freshly generated
// per-record nonce, returning nonce||ciphertext||tag for storage. Every
// write uses authenticated encryption; only pre-existing legacy rows are
// ever read as plaintext.
func encryptEmbedding(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("store: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptEmbedding reverses encryptEmbedding. A ciphertext of exactly
// legacyEmbeddingBytes is returned unmodified instead of being opened,
// matching a pre-encryption record written before this version existed.
func decryptEmbedding(key [KeySize]byte, stored []byte) ([]byte, error) {
	if len(stored) == legacyEmbeddingBytes {
		return stored, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(stored) < nonceSize {
		return nil, fmt.Errorf("store: stored embedding too short (%d bytes)", len(stored))
	}
	nonce, ciphertext := stored[:nonceSize], stored[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decrypting embedding: %w", err)
	}
	return plaintext, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("store: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: building GCM mode: %w", err)
	}
	return gcm, nil
}

package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt reports that a ciphertext could not be authenticated or
// decrypted. It usually means the key file or the blob is corrupt.
var ErrDecrypt = errors.New("cryptox: decryption failed")

const keyFileSize = 32

// Cipher performs AES-256-GCM authenticated encryption with a key derived
// from a key file. The output format is: [12-byte nonce][ciphertext][16-byte
// auth tag], so every encryption of the same plaintext produces a distinct
// blob.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipherFromFile loads the raw key material from path, generating a fresh
// random key file with owner-only permissions on first use. The actual AES
// key is derived from the file contents with HKDF-SHA256 so that the file
// material never becomes the key directly.
func NewCipherFromFile(path string) (*Cipher, error) {
	material, err := loadOrCreateKeyFile(path)
	if err != nil {
		return nil, err
	}
	return NewCipher(material)
}

// NewCipher derives an AES-256-GCM cipher from arbitrary key material.
func NewCipher(material []byte) (*Cipher, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("cryptox: empty key material")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, material, nil, []byte("ledgerlink/credential-store"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. A tampered or foreign blob
// returns ErrDecrypt.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) == 0 {
			return nil, fmt.Errorf("cryptox: key file %s is empty", path)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cryptox: read key file: %w", err)
	}

	material := make([]byte, keyFileSize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("cryptox: generate key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cryptox: create key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, material, 0o600); err != nil {
		return nil, fmt.Errorf("cryptox: write key file: %w", err)
	}
	return material, nil
}

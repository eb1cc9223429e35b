package mfa

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argon2KDFTime/Memory/Threads/KeyLength match the OWASP-minimum Argon2id
// parameters used elsewhere in this module for password hashing
// (internal/domain/auth.argon2idParams), reused here as a key-derivation
// function rather than a one-way password hash: TOTP secrets must be
// recoverable to generate codes, so they're encrypted at rest with a key
// derived from an operator-supplied passphrase rather than hashed.
const (
	argon2KDFTime      = 1
	argon2KDFMemoryKiB = 47 * 1024
	argon2KDFThreads   = 1
	argon2KDFKeyLength = 32
)

// ErrSecretStoreClosed is returned by EncryptedSecretStore methods called
// after the passphrase-derived key has been discarded.
var ErrSecretStoreClosed = errors.New("mfa: encrypted secret store closed")

// EncryptedSecretStore is a SecretStore that keeps TOTP secrets encrypted
// at rest in memory, for deployments that don't want plaintext secrets
// sitting in process memory dumps or heap snapshots any longer than an
// AES-GCM seal/open requires. The encryption key is derived from an
// operator-supplied passphrase via Argon2id; losing the passphrase means
// every enrolled secret becomes unrecoverable, same as losing a KMS key.
type EncryptedSecretStore struct {
	mu    sync.RWMutex
	key   []byte // argon2id-derived, argon2KDFKeyLength bytes
	gcm   cipher.AEAD
	boxes map[string][]byte // principalID -> nonce||ciphertext
}

// NewEncryptedSecretStore derives an AES-256-GCM key from passphrase via
// Argon2id and returns a store ready to hold encrypted TOTP secrets. salt
// should be a stable, deployment-specific value (e.g. loaded from
// config/KMS alongside the passphrase); reusing the same passphrase+salt
// pair across restarts is required to decrypt secrets written in a prior
// process lifetime if boxes are ever persisted externally.
func NewEncryptedSecretStore(passphrase string, salt []byte) (*EncryptedSecretStore, error) {
	if passphrase == "" {
		return nil, errors.New("mfa: encrypted secret store requires a non-empty passphrase")
	}
	if len(salt) == 0 {
		return nil, errors.New("mfa: encrypted secret store requires a non-empty salt")
	}

	key := argon2.IDKey([]byte(passphrase), salt, argon2KDFTime, argon2KDFMemoryKiB, argon2KDFThreads, argon2KDFKeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mfa: derived key rejected by AES: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mfa: AES-GCM setup failed: %w", err)
	}

	return &EncryptedSecretStore{
		key:   key,
		gcm:   gcm,
		boxes: make(map[string][]byte),
	}, nil
}

// Set encrypts secret under a fresh random nonce and stores it for
// principalID, replacing any prior secret.
func (s *EncryptedSecretStore) Set(principalID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gcm == nil {
		return ErrSecretStoreClosed
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("mfa: nonce generation failed: %w", err)
	}

	box := s.gcm.Seal(nonce, nonce, []byte(secret), []byte(principalID))
	s.boxes[principalID] = box
	return nil
}

// TOTPSecret implements SecretStore. The principalID is bound into the
// GCM additional data on both Set and TOTPSecret, so a box copied to a
// different principal's entry fails to decrypt instead of silently
// returning the wrong secret.
func (s *EncryptedSecretStore) TOTPSecret(_ context.Context, principalID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gcm == nil {
		return "", false
	}

	box, ok := s.boxes[principalID]
	if !ok {
		return "", false
	}

	nonceSize := s.gcm.NonceSize()
	if len(box) < nonceSize {
		return "", false
	}
	nonce, ciphertext := box[:nonceSize], box[nonceSize:]

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, []byte(principalID))
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// Close discards the derived key and GCM cipher so they don't linger on
// the heap after the store is no longer needed. Subsequent Set/TOTPSecret
// calls fail.
func (s *EncryptedSecretStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
	s.gcm = nil
	s.boxes = nil
}

var _ SecretStore = (*EncryptedSecretStore)(nil)

// Package cryptutil provides symmetric encryption for the secrets the
// store persists at rest (CalDAVAccount passwords, OAuthCredential
// tokens), keyed by a single process-wide key as required by §6 of
// the specification.
package cryptutil

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length, in bytes, of the process-wide
// encryption key before base64 encoding.
const KeySize = 32

// Key is a decoded 32-byte secretbox key.
type Key [KeySize]byte

// ParseKey decodes a URL-safe base64 key as produced by GenerateKey.
func ParseKey(encoded string) (Key, error) {
	var key Key
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("cryptutil: invalid encryption key encoding: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("cryptutil: encryption key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// GenerateKey produces a new random key, base64-encoded for storage in
// configuration.
func GenerateKey() (string, error) {
	var raw [KeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("cryptutil: failed to generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw[:]), nil
}

// Encrypt seals plaintext under key, returning a base64-encoded
// nonce||ciphertext string suitable for a TEXT column.
func Encrypt(key Key, plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("cryptutil: failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, (*[32]byte)(&key))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails closed: any tampering or key
// mismatch returns an error rather than garbage plaintext.
func Decrypt(key Key, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("cryptutil: invalid ciphertext encoding: %w", err)
	}
	if len(raw) < 24 {
		return "", errors.New("cryptutil: ciphertext too short to contain a nonce")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return "", errors.New("cryptutil: decryption failed (wrong key or corrupted data)")
	}
	return string(opened), nil
}

// Package codec implements the encryption primitives used by the cloud
// sync client: AES-256-GCM with a key derived from the user's
// passphrase (or device UUID) via PBKDF2, and a base64 wire packaging
// of {salt, iv, ciphertext}. Local persistence does not use it; the
// bbolt store holds plain JSON.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the iteration count for key derivation (spec §6).
	PBKDF2Iterations = 100_000
	saltSize         = 16
	ivSize           = 12
	keySize          = 32
)

// KeyHash returns the hex-encoded SHA-256 of a sync key, the identifier
// the server uses to look up a record without ever seeing the key itself.
func KeyHash(syncKey string) string {
	sum := sha256.Sum256([]byte(syncKey))
	return fmt.Sprintf("%x", sum[:])
}

// DeriveKey runs PBKDF2-SHA256 over passphrase with the given salt,
// producing a 256-bit AES key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, keySize, sha256.New)
}

// Encrypt derives a fresh salt and IV, encrypts plaintext with
// AES-256-GCM, and packages salt||iv||ciphertext as base64.
func Encrypt(passphrase string, plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("codec: generate salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("codec: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("codec: create GCM: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("codec: generate iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	packed := make([]byte, 0, saltSize+ivSize+len(ciphertext))
	packed = append(packed, salt...)
	packed = append(packed, iv...)
	packed = append(packed, ciphertext...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

// legacyEnvelope is the alternative wire form accepted on read, per
// spec §6: JSON {salt, iv, encrypted}, each field independently base64.
type legacyEnvelope struct {
	Salt      string `json:"salt"`
	IV        string `json:"iv"`
	Encrypted string `json:"encrypted"`
}

// ErrInvalidData is returned for a ciphertext payload too short to hold
// a salt and IV, or a legacy envelope missing a required field.
var ErrInvalidData = fmt.Errorf("codec: key invalid or data corrupted")

// Decrypt accepts either wire form and returns the plaintext, or
// ErrInvalidData if authentication fails — the key was wrong or the
// data is corrupted. It never retries with a different key.
func Decrypt(passphrase string, packedB64 string) ([]byte, error) {
	salt, iv, ciphertext, err := unpack(packedB64)
	if err != nil {
		return nil, err
	}

	key := DeriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: create GCM: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, ErrInvalidData
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidData
	}
	return plaintext, nil
}

func unpack(packedB64 string) (salt, iv, ciphertext []byte, err error) {
	trimmed := bytes.TrimSpace([]byte(packedB64))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env legacyEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, nil, nil, ErrInvalidData
		}
		salt, err1 := base64.StdEncoding.DecodeString(env.Salt)
		iv, err2 := base64.StdEncoding.DecodeString(env.IV)
		ciphertext, err3 := base64.StdEncoding.DecodeString(env.Encrypted)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, nil, nil, ErrInvalidData
		}
		return salt, iv, ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, nil, nil, ErrInvalidData
	}
	if len(raw) < saltSize+ivSize {
		return nil, nil, nil, ErrInvalidData
	}
	return raw[:saltSize], raw[saltSize : saltSize+ivSize], raw[saltSize+ivSize:], nil
}

package codec_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/tecnocratoshi/askesis/codec"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"habits":[],"version":1}`)
	packed, err := codec.Encrypt("correct-horse-battery-staple", plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := codec.Decrypt("correct-horse-battery-staple", packed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	packed, err := codec.Encrypt("pass-a", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := codec.Decrypt("pass-b", packed); err != codec.ErrInvalidData {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestDecryptLegacyEnvelope(t *testing.T) {
	// A hand-built legacy {salt, iv, encrypted} envelope should decrypt
	// identically to the packed form it was derived from.
	packed, err := codec.Encrypt("pass", []byte("hello world"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	fromPacked, err := codec.Decrypt("pass", packed)
	if err != nil {
		t.Fatalf("decrypt packed: %v", err)
	}

	// Split salt(16) || iv(12) || ciphertext into the legacy JSON form.
	raw, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		t.Fatalf("decode packed: %v", err)
	}
	legacy, err := json.Marshal(map[string]string{
		"salt":      base64.StdEncoding.EncodeToString(raw[:16]),
		"iv":        base64.StdEncoding.EncodeToString(raw[16:28]),
		"encrypted": base64.StdEncoding.EncodeToString(raw[28:]),
	})
	if err != nil {
		t.Fatalf("marshal legacy envelope: %v", err)
	}
	fromLegacy, err := codec.Decrypt("pass", string(legacy))
	if err != nil {
		t.Fatalf("decrypt legacy: %v", err)
	}
	if string(fromLegacy) != "hello world" || string(fromLegacy) != string(fromPacked) {
		t.Fatalf("legacy decrypt mismatch: got %q, packed gave %q", fromLegacy, fromPacked)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	if _, err := codec.Decrypt("pass", "not-base64-!!!"); err != codec.ErrInvalidData {
		t.Fatalf("expected ErrInvalidData for malformed input, got %v", err)
	}
	if _, err := codec.Decrypt("pass", "{}"); err != codec.ErrInvalidData {
		t.Fatalf("expected ErrInvalidData for empty legacy envelope, got %v", err)
	}
}

func TestKeyHashIsStableHex(t *testing.T) {
	h1 := codec.KeyHash("some-uuid")
	h2 := codec.KeyHash("some-uuid")
	if h1 != h2 {
		t.Fatalf("key hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte(`{"2024":{"entries":123}}`)
	compressed, err := codec.Gzip(data)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	restored, err := codec.Gunzip(compressed)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if string(restored) != string(data) {
		t.Fatalf("gzip round trip mismatch")
	}
}

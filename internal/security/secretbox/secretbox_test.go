package secretbox

import (
	"encoding/base64"
	"testing"
)

func testKey(seed byte) string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i) + seed
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecrypt(t *testing.T) {
	box, err := New(testKey(1))
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	ciphertext, err := box.Encrypt("refresh-token-value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ciphertext == "refresh-token-value" {
		t.Fatal("ciphertext equals plaintext")
	}
	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plaintext != "refresh-token-value" {
		t.Fatalf("unexpected plaintext: %s", plaintext)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	box, _ := New(testKey(1))
	other, _ := New(testKey(2))
	ciphertext, err := box.Encrypt("refresh-token-value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := other.Decrypt(ciphertext); err == nil {
		t.Fatal("decrypt with wrong key succeeded")
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty key accepted")
	}
	if _, err := New("not base64!!"); err == nil {
		t.Fatal("non-base64 key accepted")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := New(short); err == nil {
		t.Fatal("short key accepted")
	}
}

package crypto

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "01234567890123456789012345678901" // 32 bytes

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", testKey, false},
		{"short key", "too-short", true},
		{"empty key", "", true},
		{"long key", testKey + "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("NewEncryptor() error = %v, want %v", err, ErrInvalidKey)
				}
				return
			}
			if err != nil || enc == nil {
				t.Fatalf("NewEncryptor() = %v, %v", enc, err)
			}
		})
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	for _, plaintext := range []string{
		"access-sandbox-8ab976e6-64bc-4b38-98f7-731e7a349970",
		"crédito ☕",
		strings.Repeat("token", 2000),
	} {
		ciphertext, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() failed: %v", err)
		}
		if ciphertext == plaintext {
			t.Error("Encrypt() returned plaintext")
		}

		decrypted, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	if c, err := enc.Encrypt(""); err != nil || c != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", c, err)
	}
	if p, err := enc.Decrypt(""); err != nil || p != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", p, err)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	c1, _ := enc.Encrypt("access-1")
	c2, _ := enc.Encrypt("access-1")

	if c1 == c2 {
		t.Error("Encrypt() produced identical ciphertexts for the same credential")
	}
}

func TestDecrypt_Rejects(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	other, _ := NewEncryptor("98765432109876543210987654321098")

	sealed, _ := enc.Encrypt("access-1")
	foreign, _ := other.Encrypt("access-1")

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"tampered", sealed[:len(sealed)-4] + "AAAA"},
		{"invalid base64", "not-valid-base64!!!"},
		{"shorter than nonce", "YQ=="},
		{"wrong key", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tt.ciphertext); err == nil {
				t.Error("Decrypt() accepted bad ciphertext")
			}
		})
	}
}

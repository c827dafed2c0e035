package crypto

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Тесты Encrypt / Decrypt
// ============================================================

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"api key", "fk_live_4eC39HqLyjWDarjtT1zdp7dc"},
		{"empty string", ""},
		{"unicode", "ключ-провайдера"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if ciphertext == tt.plaintext && tt.plaintext != "" {
				t.Error("ciphertext equals plaintext")
			}

			decrypted, err := Decrypt(ciphertext, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("expected %q, got %q", tt.plaintext, decrypted)
			}
		})
	}
}

func TestEncrypt_InvalidKey(t *testing.T) {
	_, err := Encrypt("secret", []byte("short"))
	if !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1 := []byte("0123456789abcdef0123456789abcdef")
	key2 := []byte("fedcba9876543210fedcba9876543210")

	ciphertext, err := Encrypt("secret", key1)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = Decrypt(ciphertext, key2)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	_, err := Decrypt("bm90LXZhbGlk", key) // валидный base64, мусорное содержимое
	if err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

// ============================================================
// Тесты HashToken / VerifyToken
// ============================================================

func TestHashToken_Verify(t *testing.T) {
	token := "ops-refresh-token-2025"

	hash, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}

	if err := VerifyToken(token, hash); err != nil {
		t.Errorf("VerifyToken rejected correct token: %v", err)
	}

	if err := VerifyToken("wrong-token", hash); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestHashToken_Empty(t *testing.T) {
	if _, err := HashToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
}

func TestHashToken_TooLong(t *testing.T) {
	long := strings.Repeat("a", 100)
	if _, err := HashToken(long); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("expected ErrTokenTooLong, got %v", err)
	}
}

package secret

import (
	"crypto/aes"
	"encoding/base64"
	"errors"
	"testing"
)

const testKey = "0123456789abcdef"

func TestEncryptDecrypt(t *testing.T) {
	for _, plain := range []string{"", "p", "correct horse battery staple", "exactly16bytes!!", "密码"} {
		enc, err := Encrypt(testKey, plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		got, err := Decrypt(testKey, enc)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", enc, err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestEncryptIsECB(t *testing.T) {
	// Identical plaintext blocks encrypt to identical ciphertext blocks.
	enc, err := Encrypt(testKey, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(enc)
	if len(raw) != 3*aes.BlockSize {
		t.Fatalf("ciphertext length = %d, want %d", len(raw), 3*aes.BlockSize)
	}
	if string(raw[:16]) != string(raw[16:32]) {
		t.Error("equal blocks encrypted differently")
	}
}

func TestEncryptDeterministic(t *testing.T) {
	a, _ := Encrypt(testKey, "secret")
	b, _ := Encrypt(testKey, "secret")
	if a != b {
		t.Errorf("Encrypt is not deterministic: %q vs %q", a, b)
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := Encrypt("short", "x"); err == nil {
		t.Error("Encrypt accepted a 5-byte key")
	}
	if _, err := Decrypt("short", "x"); err == nil {
		t.Error("Decrypt accepted a 5-byte key")
	}
}

func TestDecryptErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%"},
		{"empty", ""},
		{"partial block", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(testKey, tt.input); err == nil {
				t.Errorf("Decrypt(%q) succeeded", tt.input)
			}
		})
	}
}

func TestUnpadRejectsBadPadding(t *testing.T) {
	block := make([]byte, 16)
	block[15] = 17
	if _, err := unpad(block, 16); !errors.Is(err, ErrPadding) {
		t.Errorf("unpad() error = %v, want ErrPadding", err)
	}
}

// Package secret encrypts the login secret before it leaves the console.
//
// The asset backend expects the password encrypted with AES in ECB mode under
// a pre-shared key, PKCS#7 padded and base64 encoded. The key is used as its
// UTF-8 bytes and must be 16, 24 or 32 bytes long.
package secret

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrPadding is returned by Decrypt for ciphertext with invalid padding.
var ErrPadding = errors.New("secret: invalid padding")

// Encrypt returns base64(AES-ECB(key, PKCS7(plaintext))).
func Encrypt(key, plaintext string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	bs := block.BlockSize()
	src := pad([]byte(plaintext), bs)
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Encrypt(dst[i:i+bs], src[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(dst), nil
}

// Decrypt reverses Encrypt.
func Decrypt(key, ciphertext string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	src, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	bs := block.BlockSize()
	if len(src) == 0 || len(src)%bs != 0 {
		return "", fmt.Errorf("secret: ciphertext is not a whole number of blocks")
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		block.Decrypt(dst[i:i+bs], src[i:i+bs])
	}
	out, err := unpad(dst, bs)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}

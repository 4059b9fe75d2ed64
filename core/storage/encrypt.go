package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// ParseDataKey decodes the base64 data encryption key (32 bytes after decoding).
func ParseDataKey(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	dek, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.New("failed to decode data key: " + err.Error())
	}
	if len(dek) != 32 {
		return nil, errors.New("data key must be 32 bytes (base64-encoded)")
	}
	return dek, nil
}

func newAEAD(dek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext using AES-256-GCM and a random nonce
func seal(gcm cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts ciphertext using AES-256-GCM
func open(gcm cipher.AEAD, ciphertext []byte) ([]byte, error) {
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, nil)
}

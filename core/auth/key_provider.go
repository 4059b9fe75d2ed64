package auth

import (
	"crypto/rsa"
	"errors"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// KeyProvider resolves the verification key for a token's kid.
type KeyProvider interface {
	GetKey(kid string) (interface{}, error)
}

// HMACKeyProvider serves a single shared secret (HS256).
type HMACKeyProvider struct {
	Secret []byte
}

func (p *HMACKeyProvider) GetKey(kid string) (interface{}, error) {
	if len(p.Secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}
	return p.Secret, nil
}

// RSAKeyProvider serves a single RS256 public key.
type RSAKeyProvider struct {
	PublicKey *rsa.PublicKey
}

func (p *RSAKeyProvider) GetKey(kid string) (interface{}, error) {
	if p.PublicKey != nil {
		return p.PublicKey, nil
	}
	return nil, errors.New("no public key set")
}

// LoadRSAPublicKeyFromFile reads a PEM encoded RSA public key.
func LoadRSAPublicKeyFromFile(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(pemBytes)
}

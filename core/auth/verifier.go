package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims issued by the identity provider.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier turns bearer tokens into principals. Tokens are trusted once the
// signature, issuer and expiry check out.
type Verifier struct {
	KeyProvider KeyProvider
	Issuer      string
	Methods     []string
}

// NewHMACVerifier returns a Verifier for HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{
		KeyProvider: &HMACKeyProvider{Secret: secret},
		Issuer:      issuer,
		Methods:     []string{jwt.SigningMethodHS256.Alg()},
	}
}

// Verify parses tokenString and returns the principal it names.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(v.Methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(v.Methods))
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.KeyProvider.GetKey(kid)
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Principal{}, errors.New("invalid token or claims")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: id, Role: role}, nil
}

// Issuer mints HS256 tokens. Only used by the development login endpoint and
// the CLI; production tokens come from the identity provider.
type Issuer struct {
	Secret []byte
	Name   string
	TTL    time.Duration
	Now    func() time.Time
}

// Issue signs a token for p.
func (i *Issuer) Issue(p Principal) (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuedAt := now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			Issuer:    i.Name,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}

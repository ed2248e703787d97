package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const RoleAdmin = "admin"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are carried by every access token. Subject is the user id and ID
// (jti) identifies the token for sign-out.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies access tokens with HS256 or RS256.
type Tokens struct {
	method  jwt.SigningMethod
	signKey interface{}
	verKey  interface{}
	ttl     time.Duration
	issuer  string
}

func NewHS256(secret string, ttl time.Duration, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Tokens{
		method:  jwt.SigningMethodHS256,
		signKey: []byte(secret),
		verKey:  []byte(secret),
		ttl:     ttl,
		issuer:  issuer,
	}, nil
}

// NewRS256 loads PEM keys from disk. privPath may be empty for a verify-only
// instance.
func NewRS256(privPath, pubPath string, ttl time.Duration, issuer string) (*Tokens, error) {
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	var priv *rsa.PrivateKey
	if privPath != "" {
		data, err := os.ReadFile(privPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		if priv, err = jwt.ParseRSAPrivateKeyFromPEM(data); err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}
	return newRSA(priv, pub, ttl, issuer), nil
}

func newRSA(priv *rsa.PrivateKey, pub *rsa.PublicKey, ttl time.Duration, issuer string) *Tokens {
	t := &Tokens{method: jwt.SigningMethodRS256, verKey: pub, ttl: ttl, issuer: issuer}
	if priv != nil {
		t.signKey = priv
	}
	return t
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

func (t *Tokens) Issue(userID, email, role string) (string, *Claims, error) {
	if t.signKey == nil {
		return "", nil, errors.New("token issuer has no signing key")
	}
	now := time.Now()
	claims := &Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

func (t *Tokens) Verify(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{t.method.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.verKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Package auth implements bearer-token authentication: operator login
// with bcrypt-verified passwords, JWT issuance/verification, and an
// admin-mint path for subject tokens (principals that act through a
// sandbox without ever logging in themselves). Grounded on the
// original system's create_service_account_jwt/decode_rbac_jwt pair,
// translated from jsonwebtoken to github.com/golang-jwt/jwt/v5.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/raworc/tsbx/pkg/rbac"
)

// Issuer is stamped into every token's iss claim.
const Issuer = "tsbx"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrBlocked      = errors.New("principal is blocked")
)

// Claims is the JWT payload identifying a principal. sub/sub_type
// mirror the original RbacClaims shape so a token's meaning doesn't
// depend on which collaborator minted it.
type Claims struct {
	Subject     string             `json:"sub"`
	SubjectType rbac.PrincipalType `json:"sub_type"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies bearer tokens against a single HMAC
// secret (TSBX_JWT_SECRET / JWT_SECRET in the host's environment).
type Verifier struct {
	secret []byte
}

// New builds a Verifier around secret. An empty secret is a
// configuration error the caller must catch before serving traffic.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// IssueToken mints a bearer token for a principal, valid for ttl.
func (v *Verifier) IssueToken(name string, ptype rbac.PrincipalType, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Subject:     name,
		SubjectType: ptype,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates tokenString, returning the
// principal it identifies.
func (v *Verifier) VerifyToken(tokenString string) (rbac.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return rbac.Principal{}, ErrInvalidToken
	}
	return rbac.Principal{Name: claims.Subject, Type: claims.SubjectType}, nil
}

// Package auth issues and reads the HS256 tokens that guard the operator
// API.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is checked before the Authorization header.
const CookieName = "ops_access_token"

var ErrEmptySecret = errors.New("auth: signing secret is empty")

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithExpirationRequired(),
)

func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if cookie.Value != "" {
			return cookie.Value
		}
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// IssueToken signs a token for subject that expires after ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken accepts only HS256 tokens signed with secret that carry an
// unexpired exp claim.
func ParseToken(secret []byte, tokenStr string) (jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// Package auth resolves request credentials to a user id. The same
// verifier guards the JSON API and the realtime handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a request to a user id or fails with
// ErrUnauthorized.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// JWT verifies HS256 tokens carrying a "user_id" claim.
type JWT struct {
	secret []byte
	issuer string
	cookie string
	now    func() time.Time
}

func NewJWT(secret, issuer, cookie string) *JWT {
	if strings.TrimSpace(cookie) == "" {
		cookie = "token"
	}
	return &JWT{secret: []byte(secret), issuer: issuer, cookie: cookie, now: time.Now}
}

// Issue creates a token for userID valid for ttl.
func (j *JWT) Issue(userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if j.issuer != "" {
		claims["iss"] = j.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Parse validates tokenStr and returns its user id.
func (j *JWT) Parse(tokenStr string) (string, error) {
	if len(j.secret) == 0 {
		return "", fmt.Errorf("%w: no secret configured", ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return "", ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthorized
	}
	userID, ok := claims["user_id"].(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrUnauthorized)
	}
	return userID, nil
}

func (j *JWT) Authenticate(r *http.Request) (string, error) {
	tok := ExtractToken(r, j.cookie)
	if tok == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	return j.Parse(tok)
}

// ExtractToken reads a bearer token from the Authorization header, then
// the "token" query parameter, then the named cookie.
func ExtractToken(r *http.Request, cookie string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if q := strings.TrimSpace(r.URL.Query().Get("token")); q != "" {
		return q
	}
	if cookie != "" {
		if c, err := r.Cookie(cookie); err == nil {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

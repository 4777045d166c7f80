package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndAuthenticate(t *testing.T) {
	t.Parallel()
	j := NewJWT("secret", "sleepd", "")
	tok, err := j.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"header", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Header.Set("Authorization", "Bearer "+tok)
			return r
		}},
		{"query", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
		}},
		{"cookie", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.AddCookie(&http.Cookie{Name: "token", Value: tok})
			return r
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := j.Authenticate(tt.req())
			if err != nil || got != "u1" {
				t.Fatalf("Authenticate = %q, %v", got, err)
			}
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	t.Parallel()
	j := NewJWT("secret", "", "")
	other := NewJWT("other", "", "")
	badSig, _ := other.Issue("u1", time.Hour)
	expired := NewJWT("secret", "", "")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue("u1", time.Hour)

	for name, tok := range map[string]string{"missing": "", "garbage": "abc", "signature": badSig, "expired": old} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tok != "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		if _, err := j.Authenticate(r); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type userStore struct {
	err   error
	calls int
	users map[string]bool
}

func (s *userStore) EnsureUser(_ context.Context, id string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.users == nil {
		s.users = map[string]bool{}
	}
	s.users[id] = true
	return nil
}

func bearer(t *testing.T, j *JWT, user string) *http.Request {
	t.Helper()
	tok, err := j.Issue(user, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	return r
}

func TestResolverRegistersOnce(t *testing.T) {
	t.Parallel()
	j := NewJWT("secret", "", "")
	st := &userStore{}
	res := WithUserSync(j, st)
	for i := 0; i < 2; i++ {
		uid, err := res.Authenticate(bearer(t, j, "u1"))
		if err != nil || uid != "u1" {
			t.Fatalf("Authenticate = %q, %v", uid, err)
		}
	}
	if !st.users["u1"] || st.calls != 1 {
		t.Fatalf("users = %v, calls = %d", st.users, st.calls)
	}
}

func TestResolverFailures(t *testing.T) {
	t.Parallel()
	j := NewJWT("secret", "", "")

	st := &userStore{err: errors.New("disk full")}
	_, err := WithUserSync(j, st).Authenticate(bearer(t, j, "u1"))
	if !errors.Is(err, ErrUserSync) || Status(err) != http.StatusInternalServerError {
		t.Fatalf("store failure err = %v, status = %d", err, Status(err))
	}

	st = &userStore{}
	_, err = WithUserSync(j, st).Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !errors.Is(err, ErrUnauthorized) || Status(err) != http.StatusUnauthorized {
		t.Fatalf("missing token err = %v, status = %d", err, Status(err))
	}
	if st.calls != 0 {
		t.Fatalf("store consulted for a rejected token")
	}
}

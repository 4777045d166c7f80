package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrUserSync means the token was valid but the user could not be
// resolved in the store.
var ErrUserSync = errors.New("user sync failed")

// UserStore registers users on first sight.
type UserStore interface {
	EnsureUser(ctx context.Context, id string) error
}

// Resolver authenticates with next and then makes sure the user exists in
// store, so every admitted caller is visible to the sweeps. Successful
// ids are remembered for the life of the process.
type Resolver struct {
	next  Authenticator
	store UserStore
	known sync.Map
}

func WithUserSync(next Authenticator, store UserStore) *Resolver {
	return &Resolver{next: next, store: store}
}

func (r *Resolver) Authenticate(req *http.Request) (string, error) {
	uid, err := r.next.Authenticate(req)
	if err != nil {
		return "", err
	}
	if _, ok := r.known.Load(uid); ok {
		return uid, nil
	}
	if err := r.store.EnsureUser(req.Context(), uid); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserSync, err)
	}
	r.known.Store(uid, struct{}{})
	return uid, nil
}

// Status maps an Authenticate error to an HTTP status: 401 for bad
// credentials, 500 when the user could not be resolved.
func Status(err error) int {
	if errors.Is(err, ErrUserSync) {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

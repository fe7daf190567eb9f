package shiprocket

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// TokenValidity is how long a Shiprocket token stays valid after login.
	TokenValidity = 10 * 24 * time.Hour

	// TokenRefreshMargin is how long before expiry a token is renewed.
	TokenRefreshMargin = 24 * time.Hour

	// LoginTimeout bounds a shared login, independent of the caller that started it.
	LoginTimeout = 30 * time.Second
)

// tokenSource owns the bearer token of one account. Concurrent callers that
// find the token missing or stale share a single login.
type tokenSource struct {
	api         APIClient
	credentials LoginRequest
	now         func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	logins    int
}

func newTokenSource(api APIClient, credentials LoginRequest, now func() time.Time) *tokenSource {
	return &tokenSource{api: api, credentials: credentials, now: now}
}

// Token returns a valid token, logging in when none is cached or it is near expiry.
// The shared login is detached from the caller that started it, so one caller
// giving up does not fail the others; each caller still stops waiting when its
// own ctx is done.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := t.cached(); ok {
		return tok, nil
	}

	ch := t.group.DoChan("login", func() (interface{}, error) {
		if tok, ok := t.cached(); ok {
			return tok, nil
		}
		return t.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (t *tokenSource) login(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()

	resp, err := t.api.Login(ctx, &t.credentials)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &APIError{StatusCode: 401, Message: "login returned no token"}
	}

	t.mu.Lock()
	t.token = resp.Token
	t.expiresAt = t.now().Add(TokenValidity)
	t.logins++
	t.mu.Unlock()
	return resp.Token, nil
}

// Invalidate drops token if it is still the cached one, forcing the next call to log in.
func (t *tokenSource) Invalidate(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == token {
		t.token = ""
		t.expiresAt = time.Time{}
	}
}

// Logins returns the number of successful logins.
func (t *tokenSource) Logins() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logins
}

func (t *tokenSource) cached() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" || !t.now().Before(t.expiresAt.Add(-TokenRefreshMargin)) {
		return "", false
	}
	return t.token, true
}

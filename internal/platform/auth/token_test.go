package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAuthenticator struct {
	mu     sync.Mutex
	calls  int
	expiry time.Duration
	err    error
}

func (f *fakeAuthenticator) Token(ctx context.Context) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Token{}, f.err
	}
	f.calls++
	return Token{
		AccessToken: "token-" + time.Now().Format("150405.000000000"),
		ExpiresAt:   time.Now().Add(f.expiry),
	}, nil
}

func (f *fakeAuthenticator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestAppTokenReusedWithinValidity(t *testing.T) {
	authenticator := &fakeAuthenticator{expiry: time.Hour}
	cache := NewTokenCache(authenticator, time.Minute)

	first, err := cache.AppToken(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	second, err := cache.AppToken(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached token reuse, got %q then %q", first, second)
	}
	if got := authenticator.callCount(); got != 1 {
		t.Fatalf("expected 1 auth request, got %d", got)
	}
}

func TestAppTokenRefreshedAfterExpiry(t *testing.T) {
	authenticator := &fakeAuthenticator{expiry: time.Hour}
	cache := NewTokenCache(authenticator, 0)

	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.AppToken(context.Background()); err != nil {
		t.Fatalf("first token: %v", err)
	}

	// jump past the expiry window
	cache.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := cache.AppToken(context.Background()); err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if got := authenticator.callCount(); got != 2 {
		t.Fatalf("expected 2 auth requests, got %d", got)
	}
}

func TestAppTokenConcurrentCallersSingleRefresh(t *testing.T) {
	authenticator := &fakeAuthenticator{expiry: time.Hour}
	cache := NewTokenCache(authenticator, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.AppToken(context.Background()); err != nil {
				t.Errorf("token: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := authenticator.callCount(); got != 1 {
		t.Fatalf("expected single refresh across concurrent callers, got %d", got)
	}
}

func TestAppTokenSurfacesAuthFailure(t *testing.T) {
	authenticator := &fakeAuthenticator{err: ErrAuthFailure}
	cache := NewTokenCache(authenticator, 0)
	if _, err := cache.AppToken(context.Background()); err == nil {
		t.Fatalf("expected auth failure to surface")
	}
}

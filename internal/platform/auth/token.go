package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/platform/env"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrAuthFailure = errors.New("authentication failed")

// Token is one bearer token with its absolute expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Authenticator is the host authentication service boundary: exchange client
// credentials for a bearer token covering the configured scopes.
type Authenticator interface {
	Token(ctx context.Context) (Token, error)
}

// UserTokenSource resolves a delegated access token for one user of the
// document backend. Credential persistence lives outside this module.
type UserTokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		TokenURL:     env.String("CADBRIDGE_AUTH_TOKEN_URL", ""),
		ClientID:     env.String("CADBRIDGE_AUTH_CLIENT_ID", ""),
		ClientSecret: env.String("CADBRIDGE_AUTH_CLIENT_SECRET", ""),
		Scopes:       env.Strings("CADBRIDGE_AUTH_SCOPES", []string{"code:all", "data:read", "data:write", "data:create"}),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.TokenURL) == "" {
		return errors.New("CADBRIDGE_AUTH_TOKEN_URL is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("CADBRIDGE_AUTH_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("CADBRIDGE_AUTH_CLIENT_SECRET is required")
	}
	if len(c.Scopes) == 0 {
		return errors.New("CADBRIDGE_AUTH_SCOPES is required")
	}
	return nil
}

// ClientCredentialsAuthenticator obtains application tokens through the
// two-legged client-credentials grant.
type ClientCredentialsAuthenticator struct {
	cfg clientcredentials.Config
}

func NewClientCredentialsAuthenticator(cfg Config) (*ClientCredentialsAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ClientCredentialsAuthenticator{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

func (a *ClientCredentialsAuthenticator) Token(ctx context.Context) (Token, error) {
	tok, err := a.cfg.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return Token{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// TokenCache holds one application token and refreshes it under an exclusive
// section, so concurrent callers neither trigger redundant refreshes nor
// observe a partially written token.
type TokenCache struct {
	authenticator Authenticator
	leeway        time.Duration
	now           func() time.Time

	mu    sync.Mutex
	token Token
}

func NewTokenCache(authenticator Authenticator, leeway time.Duration) *TokenCache {
	if authenticator == nil {
		return nil
	}
	if leeway < 0 {
		leeway = 0
	}
	return &TokenCache{
		authenticator: authenticator,
		leeway:        leeway,
		now:           time.Now,
	}
}

// AppToken returns the cached token while it is still valid, refreshing it
// otherwise. The check and refresh run under one lock acquisition.
func (c *TokenCache) AppToken(ctx context.Context) (string, error) {
	if c == nil {
		return "", errors.New("token cache not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.AccessToken != "" && c.now().Add(c.leeway).Before(c.token.ExpiresAt) {
		return c.token.AccessToken, nil
	}

	token, err := c.authenticator.Token(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailure)
	}
	c.token = token
	return c.token.AccessToken, nil
}

// AppTokenUserSource serves document-backend calls with the application token.
// Deployments that hold per-user delegated credentials substitute their own
// UserTokenSource at wiring time.
type AppTokenUserSource struct {
	Cache *TokenCache
}

func (s AppTokenUserSource) AccessToken(ctx context.Context, userID string) (string, error) {
	if s.Cache == nil {
		return "", errors.New("token cache is required")
	}
	return s.Cache.AppToken(ctx)
}

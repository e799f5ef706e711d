package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
)

// DefaultRefreshBefore is the safety margin: a token is only handed out while
// it stays valid for at least this long.
const DefaultRefreshBefore = 5 * time.Minute

// Token is the token endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenCache obtains a bearer token with the OAuth2 password grant and reuses
// it until it is within RefreshBefore of expiry.
type TokenCache struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	RefreshBefore time.Duration

	client HTTPDoer
	now    func() time.Time
	log    *zap.Logger

	mutex     sync.Mutex // held across a refresh so concurrent callers share it
	token     *Token
	expiresAt time.Time
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithHTTPClient replaces the client used for token requests.
func WithHTTPClient(client HTTPDoer) TokenCacheOption {
	return func(c *TokenCache) {
		c.client = client
	}
}

// WithClock replaces time.Now. Used by tests to cross the refresh boundary.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.log = log
	}
}

// WithRefreshBefore overrides DefaultRefreshBefore.
func WithRefreshBefore(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.RefreshBefore = d
		}
	}
}

// NewTokenCache creates a token cache for the given endpoint and credentials.
func NewTokenCache(tokenURL, clientID, clientSecret, username, password string, opts ...TokenCacheOption) (*TokenCache, error) {
	if tokenURL == "" {
		return nil, errors.WrapError(fmt.Errorf("token URL is required"), errors.ErrConfiguration, "create token cache")
	}
	if clientID == "" {
		return nil, errors.WrapError(fmt.Errorf("client ID is required"), errors.ErrConfiguration, "create token cache")
	}
	if username == "" {
		return nil, errors.WrapError(fmt.Errorf("username is required"), errors.ErrConfiguration, "create token cache")
	}

	c := &TokenCache{
		TokenURL:      tokenURL,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Username:      username,
		Password:      password,
		RefreshBefore: DefaultRefreshBefore,
		client:        &http.Client{Timeout: 60 * time.Second},
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns a valid access token, requesting a new one only when the
// cached token is absent or inside the refresh margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.validLocked() {
		return c.token.AccessToken, nil
	}

	requestedAt := c.now()
	tok, err := c.requestToken(ctx)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrAuthentication, "request access token")
	}

	// replaced wholesale, never patched
	c.token = tok
	c.expiresAt = requestedAt.Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.log.Debug("access token refreshed", zap.Time("expires_at", c.expiresAt))

	return c.token.AccessToken, nil
}

// ApplyAuth sets the bearer token on req.
func (c *TokenCache) ApplyAuth(req *http.Request) error {
	token, err := c.Token(req.Context())
	if err != nil {
		return err
	}
	return BearerToken(token).ApplyAuth(req)
}

// ExpiresAt returns the absolute expiry of the cached token, zero if none.
func (c *TokenCache) ExpiresAt() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.expiresAt
}

func (c *TokenCache) validLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	return c.now().Add(c.RefreshBefore).Before(c.expiresAt)
}

func (c *TokenCache) requestToken(ctx context.Context) (*Token, error) {
	data := url.Values{}
	data.Set("username", c.Username)
	data.Set("password", c.Password)
	data.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if err := (ClientCredentials{ClientID: c.ClientID, Secret: c.ClientSecret}).ApplyAuth(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &errors.ResponseError{StatusCode: resp.StatusCode, Header: resp.Header, HTML: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errors.ResponseError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	}
	if tok.AccessToken == "" || tok.ExpiresIn <= 0 {
		return nil, &errors.ResponseError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	}

	return &tok, nil
}

// String returns a string representation of this auth method
func (c *TokenCache) String() string {
	return fmt.Sprintf("TokenCache(client_id: %s, username: %s, url: %s)", c.ClientID, c.Username, c.TokenURL)
}

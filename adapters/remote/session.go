package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrAuthFailed indicates login or refresh against the remote backend was
// rejected. The dispatcher treats it as non-retryable within one request.
var ErrAuthFailed = errors.New("authentication with remote backend failed")

// SessionState tracks the session manager's lifecycle
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionRefreshing      SessionState = "refreshing"
)

// Credentials are the account-style credentials used against the remote
// backend's auth endpoint.
type Credentials struct {
	Email    string
	Password string
}

// SessionManager owns the authenticated session against the remote
// processor: it holds the bearer token, renews it proactively inside the
// configured margin before expiry, and re-authenticates reactively when the
// dispatcher invalidates it after an authorization failure. Nothing outside
// this type writes the credential.
type SessionManager struct {
	baseURL       string
	creds         Credentials
	renewalMargin time.Duration
	httpClient    *http.Client
	logger        *zap.Logger

	mu           sync.Mutex
	state        SessionState
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	// Concurrent EnsureValid callers during one expired-credential window
	// share a single in-flight login.
	group singleflight.Group
}

// NewSessionManager creates an unauthenticated session manager. The first
// EnsureValid call performs the initial login.
func NewSessionManager(baseURL string, creds Credentials, renewalMargin time.Duration, httpClient *http.Client, logger *zap.Logger) *SessionManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SessionManager{
		baseURL:       baseURL,
		creds:         creds,
		renewalMargin: renewalMargin,
		httpClient:    httpClient,
		logger:        logger,
		state:         SessionUnauthenticated,
	}
}

// EnsureValid returns a bearer token that is not known to be expired,
// authenticating or refreshing as needed. Refresh is single-flight: all
// concurrent callers wait on one login.
func (m *SessionManager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == SessionAuthenticated && !m.withinRenewalMargin() {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	result, err, _ := m.group.Do("login", func() (any, error) {
		return m.renew(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate discards the cached credential. The dispatcher calls it exactly
// once per request after an authorization failure; the next EnsureValid
// forces a fresh login.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SessionUnauthenticated
	m.accessToken = ""
	m.logger.Info("Remote session invalidated")
}

// State returns the manager's current lifecycle state
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// withinRenewalMargin reports whether the token is inside the proactive
// renewal window. Caller must hold m.mu. A token without known expiry is
// treated as valid until invalidated.
func (m *SessionManager) withinRenewalMargin() bool {
	if m.expiresAt.IsZero() {
		return false
	}
	return time.Now().After(m.expiresAt.Add(-m.renewalMargin))
}

// renew refreshes the session if a refresh token is available, falling back
// to a full login when refresh fails or is not possible.
func (m *SessionManager) renew(ctx context.Context) (string, error) {
	m.mu.Lock()
	// Another waiter may have already renewed by the time we got here.
	if m.state == SessionAuthenticated && !m.withinRenewalMargin() {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	refreshToken := m.refreshToken
	m.state = SessionRefreshing
	m.mu.Unlock()

	if refreshToken != "" {
		token, err := m.authRequest(ctx, "/api/auth/refresh", map[string]string{
			"refresh_token": refreshToken,
		})
		if err == nil {
			return token, nil
		}
		m.logger.Warn("Token refresh failed, falling back to login", zap.Error(err))
	}

	return m.authRequest(ctx, "/api/auth/login", map[string]string{
		"email":    m.creds.Email,
		"password": m.creds.Password,
	})
}

// authResponse is the remote auth endpoint's body. Older deployments return
// the access token under "token" instead of "access_token".
type authResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (m *SessionManager) authRequest(ctx context.Context, path string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.markUnauthenticated()
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		m.markUnauthenticated()
		return "", fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, string(errorBody))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		m.markUnauthenticated()
		return "", fmt.Errorf("%w: malformed auth response: %v", ErrAuthFailed, err)
	}

	accessToken := auth.AccessToken
	if accessToken == "" {
		accessToken = auth.Token
	}
	if accessToken == "" {
		m.markUnauthenticated()
		return "", fmt.Errorf("%w: no access token in response", ErrAuthFailed)
	}

	expiresAt := tokenExpiry(accessToken, auth.ExpiresIn)

	m.mu.Lock()
	m.state = SessionAuthenticated
	m.accessToken = accessToken
	m.expiresAt = expiresAt
	if auth.RefreshToken != "" {
		m.refreshToken = auth.RefreshToken
	}
	m.mu.Unlock()

	m.logger.Info("Authenticated with remote backend",
		zap.String("endpoint", path),
		zap.Time("expiresAt", expiresAt))

	return accessToken, nil
}

func (m *SessionManager) markUnauthenticated() {
	m.mu.Lock()
	m.state = SessionUnauthenticated
	m.mu.Unlock()
}

// tokenExpiry derives the token expiry from expires_in, or from the JWT exp
// claim when the auth response omits it. A zero time means unknown expiry.
func tokenExpiry(token string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

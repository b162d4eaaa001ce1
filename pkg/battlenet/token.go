package battlenet

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultTokenURL = "https://oauth.battle.net/token"

	// tokenMaxAge is shorter than Blizzard's 24h expiry so a token never dies mid-scan.
	tokenMaxAge = 20 * time.Hour
)

// AuthError is returned when the client-credentials exchange fails. It is fatal for the engine.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("battle.net auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenManager caches the Battle.net bearer token
type TokenManager struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	createdAt time.Time
}

// NewTokenManager creates a token manager for the given client id/secret.
// An empty tokenURL selects the public Battle.net endpoint.
func NewTokenManager(clientID, clientSecret, tokenURL string) *TokenManager {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// Token returns a bearer token younger than 20 hours, refreshing it when needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Sub(m.createdAt) < tokenMaxAge {
		return m.token, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.cfg.Token(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("response missing access_token")}
	}

	m.token = tok.AccessToken
	m.createdAt = m.now()
	log.Info().Time("created_at", m.createdAt).Msg("Refreshed Battle.net access token")

	return m.token, nil
}

package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// graphScope requests every application permission granted to the app.
const graphScope = "https://graph.microsoft.com/.default"

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
const tokenExpiryBuffer = 5 * time.Minute

// tokenCache holds a client-credentials access token and refreshes it
// shortly before expiry. Safe for concurrent use.
type tokenCache struct {
	mu         sync.Mutex
	cfg        *clientcredentials.Config
	httpClient *http.Client
	token      *oauth2.Token
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token returns a valid access token, fetching a new one if necessary.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.token != nil && time.Now().Add(tokenExpiryBuffer).Before(tc.token.Expiry) {
		return tc.token.AccessToken, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, tc.httpClient)
	tok, err := tc.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	tc.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.token = nil
}

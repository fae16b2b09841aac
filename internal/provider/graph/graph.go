package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/csv-mailer/internal/email"
	"github.com/shineum/csv-mailer/internal/provider"
)

const providerName = "msgraph"

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send delivers an email message via the Microsoft Graph API. A 401 refreshes
// the token once and repeats the request; every other failure is classified
// and returned to the caller.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) (provider.Receipt, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	receipt, err := g.doSendRequest(ctx, bodyJSON)
	if sendErr, ok := err.(*provider.SendError); ok && sendErr.StatusCode == http.StatusUnauthorized {
		slog.Info("refreshing Graph API token after 401")
		g.token.Invalidate()
		receipt, err = g.doSendRequest(ctx, bodyJSON)
	}
	return receipt, err
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return providerName
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, bodyJSON []byte) (provider.Receipt, error) {
	token, err := g.token.Token(ctx)
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	// Without a status the message may already have been accepted, so
	// transport failures are not retried.
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return provider.Receipt{ID: resp.Header.Get("request-id")}, nil
	}

	body, _ := io.ReadAll(resp.Body)

	message := string(body)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}

	return provider.Receipt{}, classifyError(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// classifyError builds a SendError for an HTTP error response.
func classifyError(statusCode int, message, retryAfter string) *provider.SendError {
	err := provider.NewStatusError(providerName, statusCode, message, nil)
	if seconds, convErr := strconv.Atoi(retryAfter); convErr == nil && seconds > 0 {
		err.RetryAfter = time.Duration(seconds) * time.Second
	}
	return err
}

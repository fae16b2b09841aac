package gmail

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

const (
	// DefaultCredentialsFile holds the OAuth client secrets downloaded from
	// the Google Cloud console.
	DefaultCredentialsFile = "credentials.json"

	// DefaultTokenFile is where the authorized user's token is persisted.
	DefaultTokenFile = "token.json"

	// authTimeout bounds the wait for the user to complete the browser flow.
	authTimeout = 5 * time.Minute
)

// Authenticator acquires an authorized HTTP client for the Gmail send scope.
// A persisted token is reused while valid, refreshed when expired, and
// obtained through the interactive installed-app flow otherwise.
type Authenticator struct {
	CredentialsFile string
	TokenFile       string

	// Prompt receives the authorization URL; defaults to os.Stderr.
	Prompt io.Writer
}

// Client returns an HTTP client that attaches the authorized token and
// persists it whenever it is refreshed.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	tok, err := a.token(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ts := &persistingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: a.tokenFile(),
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

func (a *Authenticator) config() (*oauth2.Config, error) {
	path := a.CredentialsFile
	if path == "" {
		path = DefaultCredentialsFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client credentials: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, gmailapi.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credentials: %w", err)
	}
	return cfg, nil
}

func (a *Authenticator) tokenFile() string {
	if a.TokenFile == "" {
		return DefaultTokenFile
	}
	return a.TokenFile
}

func (a *Authenticator) prompt() io.Writer {
	if a.Prompt == nil {
		return os.Stderr
	}
	return a.Prompt
}

// token returns a valid token, refreshing or running the browser flow as
// needed. Any newly acquired token is saved.
func (a *Authenticator) token(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	tok, err := LoadToken(a.tokenFile())
	if err != nil {
		return nil, err
	}

	if tok != nil && tok.Valid() {
		return tok, nil
	}

	if tok != nil && tok.RefreshToken != "" {
		slog.Info("refreshing gmail token")
		tok, err = cfg.TokenSource(ctx, tok).Token()
		if err != nil {
			return nil, fmt.Errorf("failed to refresh token: %w", err)
		}
	} else {
		tok, err = a.authorize(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	if err := SaveToken(a.tokenFile(), tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// authorize runs the installed-app flow: the user opens the printed URL and
// Google redirects the authorization code to a loopback listener.
func (a *Authenticator) authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start authorization listener: %w", err)
	}

	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(a.prompt(), "Open this URL in your browser to authorize Gmail access:\n\n%s\n\n", authURL)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				http.Error(w, "authorization denied", http.StatusForbidden)
				select {
				case errCh <- fmt.Errorf("authorization denied: %s", q.Get("error")):
				default:
				}
				return
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization complete. You may close this window.")
			select {
			case codeCh <- q.Get("code"):
			default:
			}
		}),
	}

	go srv.Serve(ln)
	defer srv.Close()

	waitCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", waitCtx.Err())
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// LoadToken reads a persisted token. A missing file yields (nil, nil).
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok to path, readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// persistingTokenSource saves every token that differs from the last one seen.
type persistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "error", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

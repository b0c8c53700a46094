// Package credential manages the single Google OAuth2 credential used
// by every mapping's Google side (§3 OAuthCredential, §6.2). It adapts
// the teacher's interactive token-store flow (internal/auth) onto a
// single database row instead of a token file, and exposes an
// oauth2.TokenSource backed http.Client for internal/gcal.
package credential

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/term"
	"google.golang.org/api/calendar/v3"

	"github.com/caldavsync/caldav-sync/internal/cryptutil"
	"github.com/caldavsync/caldav-sync/internal/store"
)

// Scopes requested for the Google OAuth flow.
var Scopes = []string{
	calendar.CalendarScope,
	calendar.CalendarEventsScope,
}

// GoogleEndpoint is Google's OAuth2 token/auth endpoint, spelled out
// explicitly (matching the teacher) instead of importing
// golang.org/x/oauth2/google for just these two constants.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// Provider resolves a Google OAuth2 credential from the store,
// decrypting its tokens, refreshing and re-encrypting them on use, and
// driving the interactive authorization-code flow on first run.
type Provider struct {
	Config *oauth2.Config
	Store  *store.OAuthCredentialRepository
	Key    cryptutil.Key
	Logger *slog.Logger
}

// NewProvider builds a Provider for clientID/clientSecret against the
// single-row oauth_credentials table.
func NewProvider(clientID, clientSecret string, repo *store.OAuthCredentialRepository, key cryptutil.Key, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       Scopes,
			Endpoint:     GoogleEndpoint,
		},
		Store:  repo,
		Key:    key,
		Logger: logger,
	}
}

// Client returns an HTTP client whose requests carry a valid Google
// access token, refreshing (and persisting the refresh) as needed. If
// no credential has been stored yet, it drives the interactive
// authorization-code flow (§6.2 says this is a single-user, operator
// driven exchange, not a multi-tenant one).
func (p *Provider) Client(ctx context.Context) (*http.Client, error) {
	token, err := p.loadToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: load token: %w", err)
	}
	if token == nil {
		return p.authorize(ctx)
	}

	source := p.Config.TokenSource(ctx, token)
	refreshed, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			p.Logger.Warn("stored google oauth token rejected, re-authorizing", "err", err)
			return p.authorize(ctx)
		}
		return nil, fmt.Errorf("credential: refresh token: %w", err)
	}

	if refreshed.AccessToken != token.AccessToken {
		if err := p.saveToken(ctx, refreshed); err != nil {
			return nil, fmt.Errorf("credential: persist refreshed token: %w", err)
		}
	}

	auto := &autoSaveSource{provider: p, ctx: ctx, inner: oauth2.ReuseTokenSource(refreshed, source), last: refreshed}
	return oauth2.NewClient(ctx, auto), nil
}

// autoSaveSource wraps an oauth2.TokenSource and persists every token
// it returns that differs from the last one seen, so a refresh that
// happens mid-request (inside the http.Client's RoundTripper) is still
// captured.
type autoSaveSource struct {
	provider *Provider
	ctx      context.Context
	inner    oauth2.TokenSource
	last     *oauth2.Token
}

func (a *autoSaveSource) Token() (*oauth2.Token, error) {
	token, err := a.inner.Token()
	if err != nil {
		return nil, err
	}
	if a.last == nil || a.last.AccessToken != token.AccessToken {
		if err := a.provider.saveToken(a.ctx, token); err != nil {
			return nil, fmt.Errorf("credential: save refreshed token: %w", err)
		}
		a.last = token
	}
	return token, nil
}

func (p *Provider) loadToken(ctx context.Context) (*oauth2.Token, error) {
	row, err := p.Store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	access, err := cryptutil.Decrypt(p.Key, row.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh := ""
	if row.RefreshTokenEncrypted != "" {
		refresh, err = cryptutil.Decrypt(p.Key, row.RefreshTokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	token := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    row.TokenType,
	}
	if row.ExpiresAt != nil {
		token.Expiry = *row.ExpiresAt
	}
	return token, nil
}

func (p *Provider) saveToken(ctx context.Context, token *oauth2.Token) error {
	accessEnc, err := cryptutil.Encrypt(p.Key, token.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		refreshEnc, err = cryptutil.Encrypt(p.Key, token.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	row := &store.OAuthCredential{
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		TokenType:             token.TokenType,
		Scopes:                strings.Join(p.Config.Scopes, " "),
		UpdatedAt:             time.Now().UTC(),
		CreatedAt:             time.Now().UTC(),
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		row.ExpiresAt = &expiry
	}
	return p.Store.Upsert(ctx, row)
}

// authorize drives the interactive authorization-code exchange via a
// local callback listener. It needs stdin to be a terminal; otherwise
// it returns an error without starting the flow.
func (p *Provider) authorize(ctx context.Context) (*http.Client, error) {
	if !isInteractive() {
		return nil, fmt.Errorf("credential: no stored google oauth token and not running interactively; run once from a terminal to authorize")
	}

	redirectURL, codeCh, errCh, err := startLocalServer()
	if err != nil {
		return nil, fmt.Errorf("credential: start local callback server: %w", err)
	}
	cfg := *p.Config
	cfg.RedirectURL = redirectURL

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(os.Stderr, "Visit the following URL to authorize calendar access:\n\n%s\n\nWaiting for authorization...\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, fmt.Errorf("credential: authorization callback error: %w", err)
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("credential: authorization timed out waiting for callback")
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("credential: exchange authorization code: %w", err)
	}
	if err := p.saveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("credential: save new token: %w", err)
	}

	source := oauth2.ReuseTokenSource(token, p.Config.TokenSource(ctx, token))
	auto := &autoSaveSource{provider: p, ctx: ctx, inner: source, last: token}
	return oauth2.NewClient(ctx, auto), nil
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func isInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "invalid_grant") || strings.Contains(s, "expired") || strings.Contains(s, "revoked")
}

// startLocalServer starts a one-shot HTTP server on 127.0.0.1:8080 (or
// a random port if that one is taken) to receive the OAuth redirect.
func startLocalServer() (string, <-chan string, <-chan error, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("listen: %w", err)
		}
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	server := &http.Server{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 10 * time.Second}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code != "" {
			io.WriteString(w, "<html><body><h1>Authorization successful</h1><p>You can close this window.</p></body></html>")
			codeCh <- code
		} else if msg := r.URL.Query().Get("error"); msg != "" {
			io.WriteString(w, "<html><body><h1>Authorization failed</h1></body></html>")
			errCh <- fmt.Errorf("authorization error: %s", msg)
		} else {
			io.WriteString(w, "<html><body><h1>No authorization code received</h1></body></html>")
			errCh <- fmt.Errorf("no authorization code received")
		}
		go func() {
			time.Sleep(time.Second)
			_ = server.Shutdown(context.Background())
		}()
	})
	server.Handler = mux

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	return redirectURL, codeCh, errCh, nil
}

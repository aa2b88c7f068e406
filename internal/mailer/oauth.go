package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"regreport/pkg/fsutil"

	"github.com/mazen160/go-random"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// MailScope is the scope SMTP XOAUTH2 needs on Google accounts.
const MailScope = "https://mail.google.com/"

var ErrTokenMissing = errors.New("no oauth token stored, run the auth command first")

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
	Scopes       []string
	// Endpoint defaults to Google.
	Endpoint oauth2.Endpoint
}

func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.TokenFile != ""
}

func (c OAuthConfig) oauth2Config(redirect string) *oauth2.Config {
	endpoint := c.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{MailScope}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
		RedirectURL:  redirect,
	}
}

// TokenStore keeps one oauth2 token as JSON on disk and refreshes it when it
// has expired.
type TokenStore struct {
	config OAuthConfig
}

func NewTokenStore(config OAuthConfig) TokenStore {
	return TokenStore{config: config}
}

func (s TokenStore) Load() (*oauth2.Token, error) {
	buff, err := os.ReadFile(s.config.TokenFile)
	if os.IsNotExist(err) {
		return nil, ErrTokenMissing
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	err = json.Unmarshal(buff, &tok)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.config.TokenFile, err)
	}
	return &tok, nil
}

func (s TokenStore) Save(tok *oauth2.Token) error {
	buff, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.config.TokenFile, buff, 0600)
}

// Token returns a valid access token, refreshing and persisting it first if
// the stored one has expired.
func (s TokenStore) Token(ctx context.Context) (*oauth2.Token, error) {
	stored, err := s.Load()
	if err != nil {
		return nil, err
	}
	if stored.Valid() {
		return stored, nil
	}
	if stored.RefreshToken == "" {
		return nil, fmt.Errorf("%w: stored token expired without a refresh token", ErrTokenMissing)
	}

	fresh, err := s.config.oauth2Config("").TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}
	err = s.Save(fresh)
	if err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	return fresh, nil
}

// Authorize runs the consent flow: it listens on a loopback address, hands
// the consent URL to prompt and waits for the provider to redirect back with
// a code, which it exchanges and stores.
func (s TokenStore) Authorize(ctx context.Context, prompt func(consentURL string)) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	state, err := random.String(24)
	if err != nil {
		return nil, err
	}
	redirect := fmt.Sprintf("http://%s/", listener.Addr().String())
	config := s.config.oauth2Config(redirect)

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var res result
			switch {
			case q.Get("error") != "":
				res.err = fmt.Errorf("consent denied: %s", q.Get("error"))
			case q.Get("state") != state:
				res.err = fmt.Errorf("consent state mismatch")
			case q.Get("code") == "":
				res.err = fmt.Errorf("consent redirect without a code")
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Authorized, you can close this window.")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}
	go server.Serve(listener)
	defer server.Close()

	prompt(config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := config.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	err = s.Save(tok)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism.
type xoauth2Auth struct {
	username string
	token    string
	host     string
}

func XOAuth2Auth(username, accessToken, host string) smtp.Auth {
	return xoauth2Auth{username: username, token: accessToken, host: host}
}

func (a xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	// same rule as smtp.PlainAuth, a bearer token never goes out in clear text
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("xoauth2 rejected: %s", fromServer)
	}
	return nil, nil
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}

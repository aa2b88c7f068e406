package mailer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"os"
	"path/filepath"
	"regreport/internal/components/telemetry"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + accessToken + `","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfig(t *testing.T, srv *httptest.Server) OAuthConfig {
	return OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenFile:    filepath.Join(t.TempDir(), "token.json"),
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/auth",
			TokenURL: srv.URL + "/token",
		},
	}
}

func TestTokenStoreRefreshesExpiredToken(t *testing.T) {
	srv := tokenServer(t, "fresh")
	store := NewTokenStore(oauthConfig(t, srv))

	_, err := store.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenMissing)

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	tok, err := store.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", tok.AccessToken)
	require.Equal(t, "refresh", tok.RefreshToken)

	saved, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "fresh", saved.AccessToken)
	require.Equal(t, "refresh", saved.RefreshToken)

	info, err := os.Stat(store.config.TokenFile)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestTokenStoreExpiredWithoutRefresh(t *testing.T) {
	srv := tokenServer(t, "fresh")
	store := NewTokenStore(oauthConfig(t, srv))
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Minute)}))

	_, err := store.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenMissing)
}

func TestAuthorize(t *testing.T) {
	srv := tokenServer(t, "granted")
	store := NewTokenStore(oauthConfig(t, srv))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tok, err := store.Authorize(ctx, func(consentURL string) {
		u, err := url.Parse(consentURL)
		require.NoError(t, err)
		q := u.Query()
		require.Equal(t, "client", q.Get("client_id"))
		require.Equal(t, MailScope, q.Get("scope"))
		require.Equal(t, "offline", q.Get("access_type"))

		callback := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=abc"
		go func() {
			res, err := http.Get(callback)
			if err == nil {
				res.Body.Close()
			}
		}()
	})
	require.NoError(t, err)
	require.Equal(t, "granted", tok.AccessToken)

	saved, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "granted", saved.AccessToken)
}

func TestAuthorizeRejectsWrongState(t *testing.T) {
	srv := tokenServer(t, "granted")
	store := NewTokenStore(oauthConfig(t, srv))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := store.Authorize(ctx, func(consentURL string) {
		u, _ := url.Parse(consentURL)
		go func() {
			res, err := http.Get(u.Query().Get("redirect_uri") + "?state=forged&code=abc")
			if err == nil {
				res.Body.Close()
			}
		}()
	})
	require.ErrorContains(t, err, "state mismatch")
	_, err = store.Load()
	require.ErrorIs(t, err, ErrTokenMissing)
}

func TestXOAuth2Auth(t *testing.T) {
	auth := XOAuth2Auth("me@example.com", "tok", "smtp.example.com")

	mech, resp, err := auth.Start(&smtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	require.Equal(t, "XOAUTH2", mech)
	require.Equal(t, "user=me@example.com\x01auth=Bearer tok\x01\x01", string(resp))

	_, _, err = auth.Start(&smtp.ServerInfo{Name: "smtp.example.com"})
	require.Error(t, err)
	_, _, err = auth.Start(&smtp.ServerInfo{Name: "other.example.com", TLS: true})
	require.Error(t, err)

	_, err = auth.Next([]byte(`{"status":"401"}`), true)
	require.ErrorContains(t, err, "401")
}

func writeImage(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "registration_template.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0644))
	return path
}

type capture struct {
	mail        *email.Email
	addr        string
	auth        smtp.Auth
	implicitTLS bool
}

func (c *capture) send(mail *email.Email, addr string, auth smtp.Auth, implicitTLS bool, _ string) error {
	c.mail, c.addr, c.auth, c.implicitTLS = mail, addr, auth, implicitTLS
	return nil
}

func TestSendReportWithPassword(t *testing.T) {
	got := &capture{}
	m := New(Options{
		Smtp:       SmtpConfig{Server: "smtp.example.com", Port: 587, EmailAddress: "bot@example.com", Password: "pw"},
		Recipients: ParseRecipients("a@example.com, b@example.com"),
		SenderName: "Registration Report",
	}, telemetry.NewRecorder()).WithSender(got.send)

	require.NoError(t, m.SendReport(context.Background(), writeImage(t)))
	require.Equal(t, "smtp.example.com:587", got.addr)
	require.NotNil(t, got.auth)
	require.False(t, got.implicitTLS)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, got.mail.To)
	require.Equal(t, Subject, got.mail.Subject)
	require.Equal(t, "Registration Report <bot@example.com>", got.mail.From)
	require.Len(t, got.mail.Attachments, 1)
	require.Equal(t, AttachmentName, got.mail.Attachments[0].Filename)

	raw, err := got.mail.Bytes()
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), AttachmentName))
}

func TestSendReportWithOAuth(t *testing.T) {
	srv := tokenServer(t, "fresh")
	oauth := oauthConfig(t, srv)
	require.NoError(t, NewTokenStore(oauth).Save(&oauth2.Token{
		AccessToken: "valid", Expiry: time.Now().Add(time.Hour),
	}))

	got := &capture{}
	m := New(Options{
		Smtp:       SmtpConfig{Server: "smtp.example.com", Port: 465, EmailAddress: "bot@example.com"},
		OAuth:      oauth,
		Recipients: []string{"a@example.com"},
	}, telemetry.NewRecorder()).WithSender(got.send)

	require.NoError(t, m.SendReport(context.Background(), writeImage(t)))
	require.True(t, got.implicitTLS)
	_, resp, err := got.auth.Start(&smtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	require.Contains(t, string(resp), "Bearer valid")
}

func TestSendReportFailures(t *testing.T) {
	tel := telemetry.NewRecorder()
	m := New(Options{Smtp: SmtpConfig{Server: "smtp.example.com", Port: 587}}, tel).WithSender((&capture{}).send)
	require.Error(t, m.SendReport(context.Background(), writeImage(t)))

	m = New(Options{
		Smtp:       SmtpConfig{Server: "smtp.example.com", Port: 587},
		Recipients: []string{"a@example.com"},
	}, tel).WithSender((&capture{}).send)
	require.Error(t, m.SendReport(context.Background(), filepath.Join(t.TempDir(), "missing.png")))
	require.Len(t, tel.Find("broken", report_mailer_send), 2)
}

func TestParseRecipients(t *testing.T) {
	require.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, ParseRecipients(" a@x.com;b@x.com ,, c@x.com"))
	require.Empty(t, ParseRecipients(""))
}

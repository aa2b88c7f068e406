// Package mailer sends the rendered registration report by email.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"regreport/internal/components/assert"
	"regreport/internal/components/telemetry"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_mailer_send  = "mailer.send"
	report_mailer_token = "mailer.token"
)

const (
	Subject        = "📊 Automated Report - Registration Template"
	Body           = "📊 Here is the Automated Report 4\n\nPlease find the registration template attached."
	AttachmentName = "registration_template.png"
)

var tracer = otel.Tracer("regreport.internal.mailer")

type SmtpConfig struct {
	Server       string
	Port         int
	EmailAddress string
	// Password is used when no oauth client is configured.
	Password string
}

func (c SmtpConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

type Options struct {
	Smtp       SmtpConfig
	OAuth      OAuthConfig
	Recipients []string
	SenderName string
}

// SendFunc delivers a finished message. It exists so tests can capture mail
// without an SMTP server.
type SendFunc func(mail *email.Email, addr string, auth smtp.Auth, implicitTLS bool, serverName string) error

func smtpSend(mail *email.Email, addr string, auth smtp.Auth, implicitTLS bool, serverName string) error {
	if implicitTLS {
		return mail.SendWithTLS(addr, auth, &tls.Config{ServerName: serverName})
	}
	err := mail.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(addr, nil)
	}
	return err
}

type Mailer struct {
	options Options
	tokens  TokenStore
	tel     telemetry.API
	send    SendFunc
}

func New(options Options, tel telemetry.API) Mailer {
	assert.NotNil(tel)
	return Mailer{
		options: options,
		tokens:  NewTokenStore(options.OAuth),
		tel:     telemetry.NewScopedAPI("mailer", tel),
		send:    smtpSend,
	}
}

// WithSender swaps the delivery function.
func (m Mailer) WithSender(send SendFunc) Mailer {
	m.send = send
	return m
}

// ParseRecipients splits a comma or semicolon separated address list.
func ParseRecipients(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (m Mailer) auth(ctx context.Context) (smtp.Auth, error) {
	smtpCfg := m.options.Smtp
	if m.options.OAuth.Enabled() {
		tok, err := m.tokens.Token(ctx)
		if err != nil {
			m.tel.ReportBroken(report_mailer_token, err, m.options.OAuth.TokenFile)
			return nil, err
		}
		return XOAuth2Auth(smtpCfg.EmailAddress, tok.AccessToken, smtpCfg.Server), nil
	}
	if smtpCfg.Password != "" {
		return smtp.PlainAuth("", smtpCfg.EmailAddress, smtpCfg.Password, smtpCfg.Server), nil
	}
	return nil, nil
}

// Message builds the report email with the image at imagePath attached.
func (m Mailer) Message(imagePath string) (*email.Email, error) {
	if len(m.options.Recipients) == 0 {
		return nil, fmt.Errorf("no recipients configured")
	}

	mail := email.NewEmail()
	mail.From = m.options.Smtp.EmailAddress
	if m.options.SenderName != "" {
		mail.From = fmt.Sprintf("%s <%s>", m.options.SenderName, m.options.Smtp.EmailAddress)
	}
	mail.To = m.options.Recipients
	mail.Subject = Subject
	mail.Text = []byte(Body)

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, err = mail.Attach(f, AttachmentName, "image/png")
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", filepath.Base(imagePath), err)
	}
	return mail, nil
}

// SendReport mails the rendered report at imagePath to every recipient.
func (m Mailer) SendReport(ctx context.Context, imagePath string) error {
	ctx, span := tracer.Start(ctx, "SendReport")
	defer span.End()
	span.SetAttributes(attribute.Int("recipients", len(m.options.Recipients)))

	mail, err := m.Message(imagePath)
	if err != nil {
		m.tel.ReportBroken(report_mailer_send, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build message")
		return err
	}

	auth, err := m.auth(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to authenticate")
		return err
	}

	err = m.send(mail, m.options.Smtp.addr(), auth, m.options.Smtp.Port == 465, m.options.Smtp.Server)
	if err != nil {
		m.tel.ReportBroken(report_mailer_send, err, m.options.Smtp.addr())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	m.tel.ReportDebug("report sent", strings.Join(m.options.Recipients, ", "))
	return nil
}

// Package email delivers confirmation codes to users.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gomail "github.com/wneessen/go-mail"

	"github.com/infodancer/comcore/internal/config"
)

// CodeKind identifies why a confirmation code is being delivered.
type CodeKind string

const (
	KindNewAccount    CodeKind = "newAccount"
	KindTwoFactor     CodeKind = "twoFactor"
	KindResetPassword CodeKind = "resetPassword"
)

// Sender delivers a confirmation code to an address. Returning nil means
// the message was accepted for delivery, not that it arrived.
type Sender interface {
	SendCode(ctx context.Context, email string, kind CodeKind, code string) error
}

var subjects = map[CodeKind]string{
	KindNewAccount:    "Confirm your account",
	KindTwoFactor:     "Your login code",
	KindResetPassword: "Reset your password",
}

// SMTPSender delivers codes over SMTP.
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender creates a sender from the SMTP configuration.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating SMTP client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// SendCode implements Sender.
func (s *SMTPSender) SendCode(ctx context.Context, email string, kind CodeKind, code string) error {
	subject, ok := subjects[kind]
	if !ok {
		subject = "Your confirmation code"
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := msg.To(email); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain,
		fmt.Sprintf("Your confirmation code is %s.\n\nIt expires in one hour.\n", code))

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending code email: %w", err)
	}
	return nil
}

// LogSender writes codes to the log instead of delivering them. It is the
// fallback when no SMTP host is configured, useful for local development.
type LogSender struct {
	Logger *slog.Logger
}

// SendCode implements Sender by logging the code.
func (s *LogSender) SendCode(ctx context.Context, email string, kind CodeKind, code string) error {
	s.Logger.Info("confirmation code (smtp disabled)",
		slog.String("email", email),
		slog.String("kind", string(kind)),
		slog.String("code", code),
	)
	return nil
}

// Capture records codes instead of delivering them. Used in tests.
type Capture struct {
	mu    sync.Mutex
	codes map[string]string // email -> last code
}

// NewCapture creates an empty Capture.
func NewCapture() *Capture {
	return &Capture{codes: make(map[string]string)}
}

// SendCode implements Sender by recording the code.
func (c *Capture) SendCode(ctx context.Context, email string, kind CodeKind, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[email] = code
	return nil
}

// LastCode returns the most recent code recorded for an address.
func (c *Capture) LastCode(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

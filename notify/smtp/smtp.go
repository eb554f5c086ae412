// Package smtp adapts an SMTP relay to the notify.EmailSender capability
// using gomail.
package smtp

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Config holds relay credentials. From defaults to Username when empty.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender is a notify.EmailSender over a single SMTP relay. Each Send dials
// a fresh connection; connection pooling is the relay's concern at this
// volume.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func New(cfg Config) *Sender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Sender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send delivers one HTML message. gomail dials synchronously, so the
// context is checked up front rather than threaded through.
func (s *Sender) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

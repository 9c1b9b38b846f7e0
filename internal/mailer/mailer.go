// Package mailer delivers transactional email. A Sender does the actual
// transport (Postmark in production, files on disk in development) and the
// Dispatcher runs sends on background workers so callers never wait on it.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidMessage = errors.New("invalid email message")
	ErrInvalidConfig  = errors.New("invalid mailer config")
	ErrFailedToSend   = errors.New("failed to send email")
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"-"`
	Tag      string `json:"tag,omitempty"`
}

// Validate checks that the message can be handed to a transport.
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if !emailRegex.MatchString(m.To) {
		return fmt.Errorf("%w: recipient must be a valid email address", ErrInvalidMessage)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTMLBody == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// Config selects and configures the transport.
// Without Postmark tokens the dev sender writes messages to DevDir.
type Config struct {
	PostmarkServerToken  string
	PostmarkAccountToken string
	SenderEmail          string
	SupportEmail         string
	DevDir               string
}

// NewSender returns a PostmarkSender when both tokens are set, and a
// DevSender otherwise.
func NewSender(cfg Config) (Sender, error) {
	if cfg.PostmarkServerToken == "" && cfg.PostmarkAccountToken == "" {
		return NewDevSender(cfg.DevDir), nil
	}
	return NewPostmarkSender(cfg)
}

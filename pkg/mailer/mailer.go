// Package mailer sends transactional email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// Message is a single plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the relay credentials.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

var _ Sender = (*SMTPSender)(nil)

// SMTPSender relays mail through an authenticated SMTP server.
type SMTPSender struct {
	cfg      SMTPConfig
	from     *mail.Address
	sendMail sendMailFunc
	logger   *slog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", cfg.From, err)
	}
	return &SMTPSender{cfg: cfg, from: from, sendMail: smtp.SendMail, logger: logger}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	if msg.Subject == "" {
		return errors.New("email subject cannot be empty")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.from.Address, []string{to.Address}, BuildMessage(s.from.String(), to.String(), msg.Subject, msg.Body, time.Now())); err != nil {
		s.logger.ErrorContext(ctx, "failed to send email",
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.DebugContext(ctx, "email sent", slog.String("subject", msg.Subject))
	return nil
}

// BuildMessage renders RFC 5322 headers and a plain-text body.
func BuildMessage(from, to, subject, body string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

var _ Sender = (*LogSender)(nil)

// LogSender writes messages to the log instead of sending them. Used when SMTP is not configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "email delivery disabled, logging message",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}

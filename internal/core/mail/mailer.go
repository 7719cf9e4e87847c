package mail

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/pmr/pmr-api/config"
	"github.com/pmr/pmr-api/internal/log"
)

type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the mailer selected by cfg.Driver ("smtp" or "log").
func New(cfg *config.MailConfig, logger log.Logger) (Mailer, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTPMailer(cfg), nil
	case "", "log":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail driver %q", cfg.Driver)
	}
}

type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg *config.MailConfig) *SMTPMailer {
	m := &SMTPMailer{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: cfg.From,
		send: smtp.SendMail,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.send(m.addr, m.auth, m.from, msg.To, m.compose(msg, time.Now())); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// compose renders a multipart/alternative message with text and HTML parts.
func (m *SMTPMailer) compose(msg Message, now time.Time) []byte {
	boundary := "pmr-" + xid.New().String()

	var b strings.Builder
	b.WriteString("From: " + m.from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")

	for _, part := range []struct{ kind, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	} {
		if part.body == "" {
			continue
		}
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: " + part.kind + "; charset=utf-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(part.body + "\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// LogMailer writes messages to the logger instead of delivering them.
type LogMailer struct {
	logger log.Logger
}

func NewLogMailer(logger log.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail not delivered (log driver)",
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

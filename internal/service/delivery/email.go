package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"

	"marketnotify/internal/model"
)

// EmailConfig SMTP settings. AddressOf turns a user id into a mailbox, for
// example "%s@users.example.com".
type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	AddressOf string
}

// EmailChannel sends plain text mail over SMTP, upgrading with STARTTLS when offered.
type EmailChannel struct {
	cfg  EmailConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port == 0 {
		return nil, errors.New("email: host and port are required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("email: invalid from address: %w", err)
	}
	if !strings.Contains(cfg.AddressOf, "%s") {
		return nil, errors.New("email: address_of must contain %s")
	}
	d := &net.Dialer{}
	return &EmailChannel{cfg: cfg, dial: d.DialContext}, nil
}

func (c *EmailChannel) Name() model.Channel {
	return model.ChannelEmail
}

func (c *EmailChannel) recipient(userID string) (string, error) {
	addr := fmt.Sprintf(c.cfg.AddressOf, userID)
	if userID == "" {
		return "", ErrNoRecipient
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRecipient, err)
	}
	return addr, nil
}

func (c *EmailChannel) Send(ctx context.Context, n *model.Notification) error {
	to, err := c.recipient(n.UserID)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("email: handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("email: starttls: %w", err)
		}
	}
	if c.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("email: rcpt to %s: %w", to, err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := io.WriteString(wc, formatEmail(c.cfg.From, to, n)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("email: close body: %w", err)
	}
	return client.Quit()
}

func formatEmail(from, to string, n *model.Notification) string {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Priority)), n.Title)

	var body strings.Builder
	body.WriteString(n.Message)
	if n.AIInsight != "" {
		body.WriteString("\r\n\r\n")
		body.WriteString(n.AIInsight)
	}
	if n.ActionURL != nil && *n.ActionURL != "" {
		label := "Open"
		if n.ActionLabel != nil && *n.ActionLabel != "" {
			label = *n.ActionLabel
		}
		fmt.Fprintf(&body, "\r\n\r\n%s: %s", label, *n.ActionURL)
	}

	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + escapeHeader(subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
	}
	return strings.Join(headers, "\r\n") + "\r\n" + body.String() + "\r\n"
}

func escapeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

type SMTPConfig struct {
	Host          string
	Port          string
	User          string
	Pass          string
	TLSMode       string // "", "tls", "starttls"
	SkipVerifyTLS bool

	From string
	To   []string
}

// SMTPNotifier delivers alerts to the operator mailbox.
type SMTPNotifier struct {
	cfg          SMTPConfig
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:         cfg,
		dialTimeout: 5 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, a Alert) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}
	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)

	dialer := &net.Dialer{Timeout: n.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	if strings.EqualFold(n.cfg.TLSMode, "tls") {
		tlsCfg := &tls.Config{
			ServerName:         n.cfg.Host,
			InsecureSkipVerify: n.cfg.SkipVerifyTLS,
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("smtp tls handshake failed: %w", err)
		}
		conn = tlsConn
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp new client failed: %w", err)
	}
	defer c.Quit()

	if strings.EqualFold(n.cfg.TLSMode, "starttls") {
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsCfg := &tls.Config{
				ServerName:         n.cfg.Host,
				InsecureSkipVerify: n.cfg.SkipVerifyTLS,
			}
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp starttls failed: %w", err)
			}
		} else {
			return fmt.Errorf("smtp starttls not supported by server")
		}
	}

	if n.cfg.User != "" && n.cfg.Pass != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Pass, n.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth failed: %w", err)
			}
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from failed: %w", err)
	}
	for _, rcpt := range n.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt failed: %w", err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := wc.Write(buildMessage(n.cfg, a)); err != nil {
		wc.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	return wc.Close()
}

func buildMessage(cfg SMTPConfig, a Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(a.Severity)), a.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(a.Body)
	b.WriteString("\r\n")

	if len(a.Tags) > 0 {
		keys := make([]string, 0, len(a.Tags))
		for k := range a.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\r\n--\r\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, a.Tags[k])
		}
	}
	return []byte(b.String())
}

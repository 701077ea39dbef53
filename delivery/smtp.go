package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/sirupsen/logrus"
)

// SMTPConfig configures the email link gateway. Username may be empty for
// relays without authentication.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Subjects overrides the subject line per purpose.
	Subjects map[goVerify.Purpose]string
	// InsecureSkipVerify disables certificate checks after STARTTLS. Only
	// meant for local relays such as MailHog.
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	Logger             logrus.FieldLogger
}

// SMTP mails link tokens. Messages without a Link carry the bare token.
type SMTP struct {
	cfg    SMTPConfig
	logger logrus.FieldLogger
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp: host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &SMTP{cfg: cfg, logger: cfg.Logger.WithField("component", "delivery.smtp")}, nil
}

func (s *SMTP) subject(p goVerify.Purpose) string {
	if v, ok := s.cfg.Subjects[p]; ok {
		return v
	}
	switch p {
	case goVerify.PurposeForgotPassword:
		return "Reset your password"
	case goVerify.PurposeChangePassword:
		return "Confirm your password change"
	default:
		return "Confirm your request"
	}
}

// compose renders the RFC 5322 message for msg.
func (s *SMTP) compose(msg goVerify.Message) []byte {
	target := msg.Link
	if target == "" {
		target = msg.Secret
	}
	minutes := int(time.Until(msg.ExpiresAt).Round(time.Minute) / time.Minute)

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Destination)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", s.subject(msg.Purpose)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("Open the link below to continue:\r\n\r\n")
	b.WriteString(target + "\r\n\r\n")
	if minutes > 0 {
		fmt.Fprintf(&b, "The link expires in %d minutes and works once.\r\n", minutes)
	} else {
		b.WriteString("The link works once.\r\n")
	}
	b.WriteString("If you did not ask for this, ignore this email.\r\n")
	return b.Bytes()
}

// Deliver sends msg. Only link messages are accepted.
func (s *SMTP) Deliver(ctx context.Context, msg goVerify.Message) error {
	if msg.Channel != goVerify.ChannelLink {
		return fmt.Errorf("smtp: unsupported channel %s", msg.Channel)
	}
	if strings.ContainsAny(msg.Destination, "\r\n") {
		return fmt.Errorf("smtp: invalid destination")
	}

	if err := s.send(ctx, msg.Destination, s.compose(msg)); err != nil {
		s.logger.WithField("challenge_id", msg.ChallengeID).WithError(err).Warn("smtp delivery failed")
		return fmt.Errorf("smtp: %w", err)
	}
	s.logger.WithField("challenge_id", msg.ChallengeID).Debug("smtp delivery accepted")
	return nil
}

func (s *SMTP) send(ctx context.Context, to string, body []byte) error {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.InsecureSkipVerify}
		if err := c.StartTLS(tlsCfg); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

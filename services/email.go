package services

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

type MailSender interface {
	Send(to, subject, body string) error
}

type Mailer struct {
	host string
	port int
	user string
	pass string
	tls  bool
	from string
}

func NewMailer(cfg SMTPConfig) *Mailer {
	// Sanitize host: strip any scheme or path an operator pasted in
	host := strings.TrimSpace(cfg.Host)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{
		host: host,
		port: cfg.Port,
		user: cfg.Username,
		pass: cfg.Password,
		tls:  cfg.TLS,
		from: from,
	}
}

// HashToken computes a hex-encoded SHA-256 of an opaque token string.
// Session tokens are stored hashed at rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BuildSecurityAlertEmail formats an administrator notification for a
// ban or high-severity session anomaly. Plain text only.
func BuildSecurityAlertEmail(eventType, ip, detail string) (string, string) {
	subject := "[ember security] " + eventType

	body := "security alert\n" +
		"--------------\n\n" +
		"event: " + eventType + "\n" +
		"ip:    " + ip + "\n" +
		"time:  " + time.Now().Format(time.RFC1123) + "\n\n" +
		detail + "\n\n" +
		"review the security dashboard for the full event log.\n"

	return subject, body
}

func (s *Mailer) Send(to, subject, body string) error {
	headerSafe := func(v string) string {
		// Strip CR/LF to prevent header injection; headers must be single-line
		v = strings.ReplaceAll(v, "\r", "")
		v = strings.ReplaceAll(v, "\n", "")
		return v
	}
	encodeHeader := func(v string) string {
		// RFC 2047 encoded-word for non-ASCII
		return mime.QEncoding.Encode("utf-8", headerSafe(v))
	}
	hostPort := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	safeFrom := headerSafe(s.from)
	safeTo := headerSafe(to)
	msg := []byte("From: " + safeFrom + "\r\n" +
		"To: " + safeTo + "\r\n" +
		"Subject: " + encodeHeader(subject) + "\r\n" +
		"MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\nContent-Transfer-Encoding: 8bit\r\n\r\n" + body + "\r\n")
	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	// Implicit TLS (465): bound handshake with timeout
	if s.tls && s.port == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", hostPort, &tls.Config{ServerName: s.host})
		if err != nil {
			return err
		}
		c, err := smtp.NewClient(conn, s.host)
		if err != nil {
			return err
		}
		defer c.Close()
		_ = conn.SetDeadline(time.Now().Add(20 * time.Second))
		if err := c.Auth(auth); err != nil {
			return err
		}
		return s.sendBody(c, to, msg)
	}

	// STARTTLS (commonly 587) or plain connection
	conn, err := dialer.Dial("tcp", hostPort)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer c.Close()
	_ = conn.SetDeadline(time.Now().Add(20 * time.Second))

	if s.tls {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("server does not support STARTTLS")
		}
	}

	if err := c.Auth(auth); err != nil {
		return err
	}
	return s.sendBody(c, to, msg)
}

func (s *Mailer) sendBody(c *smtp.Client, to string, msg []byte) error {
	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// ---- Lightweight async mail queue ----

// MailQueue delivers notifications off the request path. Failures are
// swallowed after one retry; a full queue drops the message rather than
// block the caller.
type MailQueue struct {
	ch chan queuedMail
}

type queuedMail struct {
	to      string
	subject string
	body    string
}

func NewMailQueue(sender MailSender) *MailQueue {
	q := &MailQueue{ch: make(chan queuedMail, 256)}
	go func() {
		for msg := range q.ch {
			if sender == nil {
				continue
			}
			if err := sender.Send(msg.to, msg.subject, msg.body); err != nil {
				time.Sleep(2 * time.Second)
				_ = sender.Send(msg.to, msg.subject, msg.body)
			}
		}
	}()
	return q
}

func (q *MailQueue) Enqueue(to, subject, body string) {
	select {
	case q.ch <- queuedMail{to: to, subject: subject, body: body}:
	default:
		// queue full: drop to avoid blocking request path
	}
}

// Close stops the delivery goroutine once queued mail drains.
func (q *MailQueue) Close() {
	close(q.ch)
}

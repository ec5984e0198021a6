package alert

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

var _ driven.AlertTransport = (*EmailTransport)(nil)

// SMTPConfig locates the mail relay and the envelope addresses.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTransport mails alerts as multipart/alternative messages with a
// plain-text part and an HTML part rendered from the alert's markdown body.
type EmailTransport struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewEmailTransport creates an EmailTransport that relays through cfg.Host.
func NewEmailTransport(cfg SMTPConfig) *EmailTransport {
	return &EmailTransport{cfg: cfg, send: smtp.SendMail}
}

// Name implements driven.AlertTransport.
func (e *EmailTransport) Name() string { return "email" }

// Deliver implements driven.AlertTransport. net/smtp has no context support,
// so the send runs in a goroutine and Deliver returns when ctx ends.
func (e *EmailTransport) Deliver(ctx context.Context, a model.Alert) error {
	msg, err := e.compose(a)
	if err != nil {
		return fmt.Errorf("compose email: %w", err)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	done := make(chan error, 1)
	go func() {
		done <- e.send(addr, auth, e.cfg.From, e.cfg.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail via %s: %w", addr, ctx.Err())
	}
}

func (e *EmailTransport) compose(a model.Alert) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", a.Body},
		{"text/html; charset=utf-8", renderHTML(a.Body)},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", a.Title))
	fmt.Fprintf(&msg, "Date: %s\r\n", a.CreatedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@buildpulse>\r\n", a.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

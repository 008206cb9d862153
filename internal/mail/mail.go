package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"text/template"
	"time"
)

// Dispatcher delivers login links. Errors mean the message was not handed
// off; callers do not retry.
type Dispatcher interface {
	SendLoginLink(ctx context.Context, to, link string, ttl time.Duration) error
}

type linkParams struct {
	Email    string
	SiteName string
	Link     string
	TTL      time.Duration
}

var textTemplate = template.Must(template.New("text").Parse(`Hello!

Click the following link to log in to {{.SiteName}}:

{{.Link}}

This link will expire in {{printf "%.f" .TTL.Minutes}} minutes.

If you did not request this login link, please ignore this email.
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`<html>
  <body>
    <h2>{{.SiteName}} Login</h2>
    <p><a href="{{.Link}}">Log in to {{.SiteName}}</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p>{{.Link}}</p>
    <p><em>This link will expire in {{printf "%.f" .TTL.Minutes}} minutes.</em></p>
    <p>If you did not request this login link, please ignore this email.</p>
  </body>
</html>
`))

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	SiteName string
	Timeout  time.Duration
}

// SMTPDispatcher sends mail over an implicit TLS connection.
type SMTPDispatcher struct {
	cfg SMTPConfig
	log *slog.Logger
}

func NewSMTPDispatcher(cfg SMTPConfig, lgr *slog.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{cfg: cfg, log: lgr}
}

func (d *SMTPDispatcher) SendLoginLink(ctx context.Context, to, link string, ttl time.Duration) error {
	const op = "mail.SendLoginLink"

	log := d.log.With(slog.String("op", op))

	msg, err := buildMessage(d.cfg.From, to, linkParams{Email: to, SiteName: d.cfg.SiteName, Link: link, TTL: ttl})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.send(ctx, to, msg); err != nil {
		log.Error("failed to send login link", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("login link sent")

	return nil
}

func (d *SMTPDispatcher) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: d.cfg.Host, MinVersion: tls.VersionTLS12}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	c, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if d.cfg.User != "" {
		if err := c.Auth(smtp.PlainAuth("", d.cfg.User, d.cfg.Password, d.cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(d.cfg.From); err != nil {
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

func buildMessage(from, to string, params linkParams) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		tmpl        interface{ Execute(io.Writer, any) error }
	}{
		{"text/plain; charset=utf-8", textTemplate},
		{"text/html; charset=utf-8", htmlTemplate},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if err := p.tmpl.Execute(pw, params); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: Your %s Login Link\r\n", params.SiteName)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

// LogDispatcher writes links to the log instead of mailing them. Local only.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(lgr *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: lgr}
}

func (d *LogDispatcher) SendLoginLink(_ context.Context, to, link string, ttl time.Duration) error {
	d.log.Info("login link", slog.String("to", to), slog.String("link", link), slog.Duration("ttl", ttl))
	return nil
}

package smtp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-message/mail"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Sender renders named templates and delivers them over SMTP
type Sender struct {
	cfg       Config
	templates map[string]compiled
	send      func(addr string, a netsmtp.Auth, from string, to []string, msg []byte) error
}

func NewSender(cfg Config) (*Sender, error) {
	return NewSenderWithTemplates(cfg, defaultTemplates)
}

func NewSenderWithTemplates(cfg Config, templates map[string]Template) (*Sender, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	s := &Sender{cfg: cfg, templates: make(map[string]compiled), send: netsmtp.SendMail}
	for name, t := range templates {
		subject, err := template.New(name + ".subject").Option("missingkey=zero").Parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", name, err)
		}
		body, err := template.New(name + ".body").Option("missingkey=zero").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", name, err)
		}
		s.templates[name] = compiled{subject: subject, body: body}
	}
	return s, nil
}

// Render builds the RFC 5322 message for template name
func (s *Sender) Render(to, name string, vars map[string]any) ([]byte, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail template %q", name)
	}

	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("render %s body: %w", name, err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: s.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(strings.TrimSpace(subject.String()))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, &body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Send renders and delivers a templated mail to a single recipient
func (s *Sender) Send(ctx context.Context, to, name string, vars map[string]any) error {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return fmt.Errorf("smtp is not configured")
	}
	msg, err := s.Render(to, name, vars)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth netsmtp.Auth
	if s.cfg.User != "" {
		auth = netsmtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	// net/smtp has no context support
	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{to}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

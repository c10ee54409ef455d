package imap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const maxBodyBytes = 256 << 10

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Message is the part of an RFC 822 message the back office keeps
type Message struct {
	MessageID   string
	Subject     string
	FromAddress string
	FromName    string
	Body        string
	Date        time.Time
}

// ParseMessage decodes headers and picks a text body, preferring text/plain
// over HTML. Attachments are ignored.
func ParseMessage(raw *RawMessage) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw.Raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message %d: %w", raw.UID, err)
	}
	defer mr.Close()

	msg := &Message{Date: raw.InternalDate}

	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(mr.Header.Get("Subject"))
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromAddress = strings.ToLower(from[0].Address)
		msg.FromName = from[0].Name
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if message.IsUnknownCharset(err) {
			continue
		}
		if err != nil {
			// Keep whatever was decoded before the broken part
			if plain == "" && html == "" {
				return nil, fmt.Errorf("read parts of message %d: %w", raw.UID, err)
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		b, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if plain == "" {
				plain = string(b)
			}
		case "text/html":
			if html == "" {
				html = string(b)
			}
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(plain)
	case html != "":
		msg.Body = htmlToText(html)
	}
	return msg, nil
}

func htmlToText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.Join(strings.Fields(s), " ")
}

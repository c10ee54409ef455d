package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrLoginFailed means the server rejected the configured credentials
var ErrLoginFailed = errors.New("imap login failed")

type Config struct {
	Server   string
	Port     int
	User     string
	Password string
}

// RawMessage is an unparsed RFC 822 message with its server metadata
type RawMessage struct {
	UID          uint32
	Raw          []byte
	InternalDate time.Time
}

// IMAPService reads a single configured mailbox. Each call opens its own
// session and logs out before returning.
type IMAPService struct {
	cfg         Config
	dialTimeout time.Duration
}

func NewService(cfg Config) *IMAPService {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	return &IMAPService{cfg: cfg, dialTimeout: 30 * time.Second}
}

func (s *IMAPService) connect(ctx context.Context) (*client.Client, error) {
	if s.cfg.Server == "" {
		return nil, fmt.Errorf("imap server is not configured")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)

	dialer := &net.Dialer{Timeout: s.dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	var (
		c   *client.Client
		err error
	)
	if s.cfg.Port == 993 {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: s.cfg.Server})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			if ok, _ := c.SupportStartTLS(); ok {
				err = c.StartTLS(&tls.Config{ServerName: s.cfg.Server})
			}
		}
	}
	if err != nil {
		if c != nil {
			_ = c.Logout()
		}
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(s.cfg.User, s.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return c, nil
}

// Unseen is one mail_fetch run's view of a mailbox
type Unseen struct {
	// Listed counts every unseen message matching the search, before limit
	Listed   int
	Messages []*RawMessage
}

// FetchUnseen searches for unseen messages received on or after since and
// downloads the oldest limit of them in one batched fetch, all over a single
// session. IMAP SINCE has day granularity so callers must still skip messages
// they already stored. Messages are returned oldest UID first and the \Seen
// flag is left untouched.
func (s *IMAPService) FetchUnseen(ctx context.Context, mailbox string, since time.Time, limit int) (*Unseen, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	uids, err := searchUnseen(c, since)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mailbox, err)
	}
	out := &Unseen{Listed: len(uids)}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return out, nil
	}

	out.Messages, err = fetchBatch(c, uids)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func searchUnseen(c *client.Client, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// fetchBatch downloads every UID with one UID FETCH command
func fetchBatch(c *client.Client, uids []uint32) ([]*RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	out := make([]*RawMessage, 0, len(uids))
	var readErr error
	for msg := range messages {
		if readErr != nil {
			// Keep draining so UidFetch can return
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			log.Printf("[IMAP] Message UID %d has no body", msg.Uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("read message %d: %w", msg.Uid, err)
			continue
		}
		out = append(out, &RawMessage{UID: msg.Uid, Raw: raw, InternalDate: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %d message(s): %w", len(uids), err)
	}
	if readErr != nil {
		return nil, readErr
	}
	if len(out) < len(uids) {
		log.Printf("[IMAP] Fetched %d of %d messages", len(out), len(uids))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

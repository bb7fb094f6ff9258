// Package imap fetches registry deliveries from an IMAP mailbox.
package imap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"npdbot/internal/mail"
)

const fetchBuffer = 10

type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	Mailbox       string
	FromFilter    string
	SubjectFilter string
	DaysToCheck   int
	Extensions    []string
	Timeout       time.Duration
}

// Source searches the mailbox for recent messages and returns their
// attachments. The mailbox is opened read-only and messages are fetched
// with BODY.PEEK so their \Seen flag does not change.
type Source struct {
	cfg Config
	now func() time.Time
}

func NewSource(cfg Config) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Source{cfg: cfg, now: time.Now}
}

func (s *Source) Fetch(ctx context.Context) ([]mail.Delivery, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	c.Timeout = s.cfg.Timeout
	defer c.Logout()

	// Unblock the client when the caller gives up.
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(s.cfg.User, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", s.cfg.Mailbox, err)
	}

	uids, err := c.UidSearch(s.criteria())
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	slog.InfoContext(ctx, "Mailbox searched",
		"mailbox", s.cfg.Mailbox,
		"messages", len(uids),
		"days", s.cfg.DaysToCheck)
	if len(uids) == 0 {
		return []mail.Delivery{}, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	messages := make(chan *goimap.Message, fetchBuffer)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	deliveries := make([]mail.Delivery, 0, len(uids))
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			slog.WarnContext(ctx, "Message without body", "uid", msg.Uid)
			continue
		}
		d, err := mail.ParseMessage(body, "uid:"+strconv.FormatUint(uint64(msg.Uid), 10), s.cfg.Extensions)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unparsable message", "uid", msg.Uid, "error", err)
			continue
		}
		deliveries = append(deliveries, d)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (s *Source) criteria() *goimap.SearchCriteria {
	criteria := goimap.NewSearchCriteria()
	days := s.cfg.DaysToCheck
	if days <= 0 {
		days = 1
	}
	criteria.Since = s.now().AddDate(0, 0, -days)
	if s.cfg.FromFilter != "" {
		criteria.Header.Add("From", s.cfg.FromFilter)
	}
	if s.cfg.SubjectFilter != "" {
		criteria.Header.Add("Subject", s.cfg.SubjectFilter)
	}
	return criteria
}

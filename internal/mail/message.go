package mail

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// ParseMessage reads a raw message and collects its attachments whose
// extension is allowed. fallbackID is used when the message has no
// Message-ID header.
func ParseMessage(r io.Reader, fallbackID string, allowed []string) (Delivery, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return Delivery{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	d := Delivery{ID: fallbackID}
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		d.ID = id
	}
	if subject, err := mr.Header.Subject(); err == nil {
		d.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		d.From = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil {
		d.Date = date
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return d, fmt.Errorf("read message part: %w", err)
		}

		filename := partFilename(p.Header)
		if filename == "" || !AllowedFile(filename, allowed) {
			continue
		}
		content, err := io.ReadAll(p.Body)
		if err != nil {
			return d, fmt.Errorf("read attachment %s: %w", filename, err)
		}
		d.Attachments = append(d.Attachments, Attachment{Filename: filename, Content: content})
	}

	return d, nil
}

// partFilename returns the decoded file name of an attachment part. Inline
// parts that carry a file name count as attachments too.
func partFilename(h gomail.PartHeader) string {
	var name string
	switch h := h.(type) {
	case *gomail.AttachmentHeader:
		name, _ = h.Filename()
	case *gomail.InlineHeader:
		name, _ = (&gomail.AttachmentHeader{Header: h.Header}).Filename()
		if name == "" {
			if _, params, err := h.ContentType(); err == nil {
				name = params["name"]
			}
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

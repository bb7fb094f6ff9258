package imap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCriteria(t *testing.T) {
	s := NewSource(Config{
		Host:          "imap.example.com",
		FromFilter:    "noreply@bank.example",
		SubjectFilter: "Реестр",
		DaysToCheck:   3,
	})
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	c := s.criteria()
	assert.Equal(t, now.AddDate(0, 0, -3), c.Since)
	assert.Equal(t, "noreply@bank.example", c.Header.Get("From"))
	assert.Equal(t, "Реестр", c.Header.Get("Subject"))
}

func TestCriteriaDefaults(t *testing.T) {
	s := NewSource(Config{Host: "imap.example.com"})
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	c := s.criteria()
	assert.Equal(t, now.AddDate(0, 0, -1), c.Since)
	assert.Empty(t, c.Header)
	assert.Equal(t, "INBOX", s.cfg.Mailbox)
	assert.Equal(t, 993, s.cfg.Port)
}

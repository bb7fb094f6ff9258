// Package mail defines where registry attachments come from and how a raw
// RFC 5322 message is turned into a Delivery.
package mail

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

type (
	// Delivery is one received message with its candidate attachments.
	Delivery struct {
		ID          string
		Subject     string
		From        string
		Date        time.Time
		Attachments []Attachment
	}

	Attachment struct {
		Filename string
		Content  []byte
	}
)

// Source yields the deliveries currently available for ingestion.
type Source interface {
	Fetch(ctx context.Context) ([]Delivery, error)
}

// DefaultExtensions are the attachment types a registry is exported as.
var DefaultExtensions = []string{".csv"}

// AllowedFile reports whether filename has one of the extensions in allowed
// (case-insensitive). An empty list falls back to DefaultExtensions.
func AllowedFile(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if ext == a {
			return true
		}
	}
	return false
}

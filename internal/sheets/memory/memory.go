package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	ports "npdbot/internal/sheets"
)

// Store is an in-process ledger for local runs and tests.
type Store struct {
	mu      sync.Mutex
	entries []ports.LedgerEntry
}

var _ ports.Ledger = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendEntry stores the entry and returns a synthetic row reference.
func (s *Store) AppendEntry(_ context.Context, e ports.LedgerEntry) (string, error) {
	if strings.TrimSpace(e.Date) == "" {
		return "", errors.New("ledger entry without date")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return fmt.Sprintf("mem:%d", len(s.entries)), nil
}

func (s *Store) HasEntry(_ context.Context, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Date == date {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns a copy of the recorded rows in append order.
func (s *Store) Entries() []ports.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.LedgerEntry(nil), s.entries...)
}

package mail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource reads .eml files from a spool directory. Files are not removed
// after reading; fingerprints keep repeated reads from ingesting twice.
type DirSource struct {
	Dir        string
	Extensions []string
}

func NewDirSource(dir string, extensions []string) *DirSource {
	return &DirSource{Dir: dir, Extensions: extensions}
}

func (s *DirSource) Fetch(ctx context.Context) ([]Delivery, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	deliveries := make([]Delivery, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := s.readFile(filepath.Join(s.Dir, name), name)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable message", "file", name, "error", err)
			continue
		}
		deliveries = append(deliveries, d)
	}

	slog.DebugContext(ctx, "Spool scanned", "dir", s.Dir, "deliveries", len(deliveries))
	return deliveries, nil
}

func (s *DirSource) readFile(path, name string) (Delivery, error) {
	f, err := os.Open(path)
	if err != nil {
		return Delivery{}, err
	}
	defer f.Close()
	return ParseMessage(f, name, s.Extensions)
}

package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// RunNaming decides how a run's output directory is named.
type RunNaming int

const (
	// NamingID uses the full run ID.
	NamingID RunNaming = iota
	// NamingTimestamp uses the start time and a short ID.
	NamingTimestamp
	// NamingDescriptive adds a slug of the book title to the timestamp.
	NamingDescriptive
)

// ParseRunNaming accepts "id", "timestamp" or "descriptive".
func ParseRunNaming(s string) (RunNaming, error) {
	switch strings.ToLower(s) {
	case "", "descriptive":
		return NamingDescriptive, nil
	case "timestamp":
		return NamingTimestamp, nil
	case "id":
		return NamingID, nil
	}
	return 0, fmt.Errorf("unknown run naming %q", s)
}

// RunPath returns the directory, relative to the storage root, for one
// run's output, e.g. runs/2026-07-16_1530_the-harbour-ledger_82f06b15.
func RunPath(runID, title string, started time.Time, naming RunNaming) string {
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	stamp := started.Format("2006-01-02_1504")

	switch naming {
	case NamingTimestamp:
		return filepath.Join("runs", stamp+"_"+shortID)
	case NamingDescriptive:
		return filepath.Join("runs", fmt.Sprintf("%s_%s_%s", stamp, sanitizeForFilename(title, 30), shortID))
	default:
		return filepath.Join("runs", runID)
	}
}

// ChapterPath returns where an accepted chapter of a run in progress is
// kept, e.g. chapters/<run id>/chapter_03.txt.
func ChapterPath(runID string, chapter int) string {
	return filepath.Join("chapters", runID, fmt.Sprintf("chapter_%02d.txt", chapter))
}

// sanitizeForFilename lowercases s, keeps letters and digits, and joins
// everything else into single hyphens.
func sanitizeForFilename(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '-'
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if len(s) > maxLen {
		s = strings.TrimRight(truncateRunes(s, maxLen), "-")
	}
	if s == "" {
		s = "book"
	}
	return s
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

// Package output renders a finished run into files: the book in the
// requested formats, the outline and cast, run metadata and the state
// audit log. Accepted chapters are also saved one by one while the run is
// in progress.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
	"github.com/dotcommander/bookwright/internal/storage"
)

const (
	FormatText     = "txt"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

var formatFiles = map[string]string{
	FormatText:     "book.txt",
	FormatJSON:     "manuscript.json",
	FormatMarkdown: "book.md",
}

type Writer struct {
	store  storage.Storage
	naming storage.RunNaming
	logger *slog.Logger
}

type Option func(*Writer)

func WithNaming(n storage.RunNaming) Option {
	return func(w *Writer) {
		w.naming = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

func NewWriter(store storage.Storage, opts ...Option) *Writer {
	w := &Writer{
		store:  store,
		naming: storage.NamingDescriptive,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "output")
	return w
}

// Metadata describes a run for readers of the output directory.
type Metadata struct {
	RunID           string                `json:"run_id"`
	Title           string                `json:"title"`
	Genre           string                `json:"genre"`
	Premise         string                `json:"premise"`
	Style           string                `json:"style"`
	Phase           core.RunPhase         `json:"phase"`
	Accepted        int                   `json:"accepted"`
	Rejected        int                   `json:"rejected"`
	Words           int                   `json:"words"`
	Chapters        []core.ChapterOutcome `json:"chapters"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
	DurationSeconds float64               `json:"duration_seconds"`
}

// Write stores the run under its own directory and returns the paths
// written, relative to the storage root.
func (w *Writer) Write(ctx context.Context, report *core.Report, brief core.Brief, formats []string) ([]string, error) {
	dir := storage.RunPath(report.RunID, report.Title, report.StartedAt, w.naming)
	records := report.Manuscript()

	files := make(map[string][]byte)
	for _, format := range formats {
		name, ok := formatFiles[format]
		if !ok {
			return nil, fmt.Errorf("unknown output format %q", format)
		}
		data, err := render(format, report.Title, records)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", format, err)
		}
		files[name] = data
	}

	meta := Metadata{
		RunID:           report.RunID,
		Title:           report.Title,
		Genre:           brief.Genre,
		Premise:         brief.Premise,
		Style:           brief.Style,
		Phase:           report.Phase,
		Accepted:        report.Accepted(),
		Rejected:        report.Rejected(),
		Words:           countWords(records),
		Chapters:        report.Chapters,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		DurationSeconds: report.Duration().Seconds(),
	}
	var err error
	if files["metadata.json"], err = json.MarshalIndent(meta, "", "  "); err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if files["audit.json"], err = json.MarshalIndent(report.Audit, "", "  "); err != nil {
		return nil, fmt.Errorf("encoding audit log: %w", err)
	}
	if report.Outline != nil {
		if files["outline.json"], err = json.MarshalIndent(report.Outline, "", "  "); err != nil {
			return nil, fmt.Errorf("encoding outline: %w", err)
		}
	}
	if len(report.Cast) > 0 {
		if files["cast.json"], err = json.MarshalIndent(report.Cast, "", "  "); err != nil {
			return nil, fmt.Errorf("encoding cast: %w", err)
		}
	}

	written := make([]string, 0, len(files))
	for _, name := range sortedKeys(files) {
		p := path.Join(dir, name)
		if err := w.store.Save(ctx, p, files[name]); err != nil {
			return written, fmt.Errorf("saving %s: %w", p, err)
		}
		written = append(written, p)
	}

	w.logger.Info("run output written",
		"run_id", report.RunID,
		"dir", dir,
		"files", len(written),
		"chapters", len(records),
		"words", meta.Words)
	return written, nil
}

// SaveChapter writes one accepted chapter as plain text under
// chapters/<run id>/, so progress survives a run that dies later.
func (w *Writer) SaveChapter(ctx context.Context, runID string, rec narrative.ChapterRecord) error {
	p := storage.ChapterPath(runID, rec.ChapterID)
	text := fmt.Sprintf("Chapter %d: %s\n\n%s\n", rec.ChapterID, rec.Title, rec.Text)
	if err := w.store.Save(ctx, p, []byte(text)); err != nil {
		return fmt.Errorf("saving chapter %d: %w", rec.ChapterID, err)
	}
	w.logger.Debug("chapter saved", "run_id", runID, "chapter", rec.ChapterID, "path", p)
	return nil
}

// RunSummary is one earlier run found in storage.
type RunSummary struct {
	Dir string
	Metadata
}

// Runs lists earlier runs by their metadata files, newest first.
func (w *Writer) Runs(ctx context.Context) ([]RunSummary, error) {
	paths, err := w.store.List(ctx, path.Join("runs", "*", "metadata.json"))
	if err != nil {
		return nil, err
	}
	runs := make([]RunSummary, 0, len(paths))
	for _, p := range paths {
		raw, err := w.store.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			w.logger.Warn("skipping unreadable run metadata", "path", p, "error", err)
			continue
		}
		runs = append(runs, RunSummary{Dir: filepath.ToSlash(filepath.Dir(p)), Metadata: meta})
	}
	slices.SortStableFunc(runs, func(a, b RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs, nil
}

func render(format, title string, records []narrative.ChapterRecord) ([]byte, error) {
	var b strings.Builder
	switch format {
	case FormatText:
		b.WriteString(strings.ToUpper(title))
		b.WriteString("\n\n")
		for _, r := range records {
			fmt.Fprintf(&b, "Chapter %d: %s\n\n%s\n\n", r.ChapterID, r.Title, r.Text)
		}
	case FormatMarkdown:
		fmt.Fprintf(&b, "# %s\n\n", title)
		for _, r := range records {
			fmt.Fprintf(&b, "## Chapter %d: %s\n\n%s\n\n", r.ChapterID, r.Title, r.Text)
		}
	case FormatJSON:
		return json.MarshalIndent(struct {
			Title    string                    `json:"title"`
			Chapters []narrative.ChapterRecord `json:"chapters"`
		}{title, records}, "", "  ")
	}
	return []byte(b.String()), nil
}

func countWords(records []narrative.ChapterRecord) int {
	n := 0
	for _, r := range records {
		n += len(strings.Fields(r.Text))
	}
	return n
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

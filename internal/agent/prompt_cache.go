package agent

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// PromptCache renders prompt templates read from a filesystem. Each
// template is parsed at most once; a parse failure is remembered too.
type PromptCache struct {
	fsys fs.FS

	mu      sync.Mutex
	entries map[string]*promptEntry
}

type promptEntry struct {
	once sync.Once
	tmpl *template.Template
	err  error
}

func NewPromptCache(fsys fs.FS) *PromptCache {
	return &PromptCache{fsys: fsys, entries: make(map[string]*promptEntry)}
}

// Template returns the parsed template at path. Templates fail on missing
// keys.
func (pc *PromptCache) Template(path string) (*template.Template, error) {
	pc.mu.Lock()
	e, ok := pc.entries[path]
	if !ok {
		e = &promptEntry{}
		pc.entries[path] = e
	}
	pc.mu.Unlock()

	e.once.Do(func() {
		src, err := fs.ReadFile(pc.fsys, path)
		if err != nil {
			e.err = fmt.Errorf("prompt %s: %w", path, err)
			return
		}
		e.tmpl, e.err = template.New(path).
			Funcs(promptFuncs).
			Option("missingkey=error").
			Parse(string(src))
		if e.err != nil {
			e.err = fmt.Errorf("prompt %s: %w", path, e.err)
		}
	})
	return e.tmpl, e.err
}

func (pc *PromptCache) Render(path string, data any) (string, error) {
	tmpl, err := pc.Template(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", path, err)
	}
	return buf.String(), nil
}

// Preload parses every template matching pattern, so a broken prompt
// fails at startup instead of mid-run.
func (pc *PromptCache) Preload(pattern string) error {
	paths, err := fs.Glob(pc.fsys, pattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no prompts match %s", pattern)
	}
	var errs []string
	for _, p := range paths {
		if _, err := pc.Template(p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broken prompts: %s", strings.Join(errs, "; "))
	}
	return nil
}

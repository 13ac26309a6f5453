package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDryRun(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BOOKWRIGHT_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	metricsFile := filepath.Join(dir, "bookwright.prom")
	cfgPath := filepath.Join(dir, "config.yaml")
	yamlData := `
ai:
  provider: mock
  model: scripted
book:
  genre: maritime
  premise: A lighthouse keeper waits for a ship that never docks.
  chapters: 2
pipeline:
  retry_backoff: 0s
output:
  dir: ` + outDir + `
  formats: [txt, markdown]
  metrics_file: ` + metricsFile + `
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlData), 0o644))

	require.NoError(t, run([]string{"-config", cfgPath, "-log-level", "error", "-naming", "id"}))

	books, err := filepath.Glob(filepath.Join(outDir, "runs", "*", "book.txt"))
	require.NoError(t, err)
	require.Len(t, books, 1)
	text, err := os.ReadFile(books[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(text), "THE LAMP AT NIGHT"), string(text))
	assert.Equal(t, 2, strings.Count(string(text), "The Keeper lit the lamp."))

	for _, name := range []string{"book.md", "metadata.json", "audit.json", "outline.json", "cast.json"} {
		_, err := os.Stat(filepath.Join(filepath.Dir(books[0]), name))
		assert.NoError(t, err, name)
	}

	// With id naming the run directory is the run id.
	runID := filepath.Base(filepath.Dir(books[0]))
	chapters, err := filepath.Glob(filepath.Join(outDir, "chapters", runID, "chapter_*.txt"))
	require.NoError(t, err)
	assert.Len(t, chapters, 2, "each accepted chapter is saved as it lands")

	require.NoError(t, run([]string{"-config", cfgPath, "-log-level", "error", "-runs"}))

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "bookwright_agent_calls_total")
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookwright", "config.yaml")
	require.NoError(t, run([]string{"-init", path, "-log-level", "error"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider: openai")
}

func TestRunRejectsBadFlags(t *testing.T) {
	assert.Error(t, run([]string{"-log-level", "loud"}))
	assert.Error(t, run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}))
}

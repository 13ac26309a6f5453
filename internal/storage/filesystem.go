package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutsideRoot is returned for paths and patterns that do not stay under
// the storage root.
var ErrOutsideRoot = errors.New("path escapes storage root")

// FileSystem stores run artefacts in a directory tree.
type FileSystem struct {
	root string
}

func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: filepath.Clean(root)}
}

// Root returns the directory all paths are relative to.
func (fs *FileSystem) Root() string {
	return fs.root
}

// resolve maps a slash-separated relative path onto the root.
func (fs *FileSystem) resolve(rel string) (string, error) {
	local := filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return filepath.Join(fs.root, local), nil
}

// Save replaces the file at rel. Readers see either the old or the new
// content, never a partial write.
func (fs *FileSystem) Save(ctx context.Context, rel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := fs.resolve(rel)
	if err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("staging %s: %w", rel, err)
	}
	staged := tmp.Name()
	defer os.Remove(staged)

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := os.Chmod(staged, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := os.Rename(staged, target); err != nil {
		return fmt.Errorf("publishing %s: %w", rel, err)
	}
	return nil
}

func (fs *FileSystem) Load(ctx context.Context, rel string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := fs.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", rel, err)
	}
	return data, nil
}

// List returns the root-relative paths matching a glob pattern, e.g.
// "runs/*/metadata.json".
func (fs *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := fs.resolve(pattern)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(fs.root, m)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

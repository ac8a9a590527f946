package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/nexus/internal/gitignore"
	"github.com/Aman-CERP/nexus/internal/state"
)

// DiscoverOptions controls which paths discovery enumerates.
type DiscoverOptions struct {
	Policy           state.Policy
	IgnorePatterns   []string // doublestar globs against base names and root-relative paths
	RespectGitignore bool
	Exclude          []string // Absolute directories never entered, such as the store root
}

// Discover returns the regular files under root in lexical order.
// Excluded directories are not entered. Files the policy would skip are
// still returned so they can be counted as skipped. Symlinks are ignored.
// A root that is a regular file yields just that file.
func Discover(ctx context.Context, root string, opts DiscoverOptions) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	if info.Mode().IsRegular() {
		return []string{root}, nil
	}

	var ignore *gitignore.Matcher
	if opts.RespectGitignore {
		ignore = gitignore.New()
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("discover_unreadable", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (opts.excluded(path) || opts.Policy.SkipDir(d.Name()) ||
				matchesAny(opts.IgnorePatterns, d.Name(), rel) || (ignore != nil && ignore.Match(rel, true))) {
				return filepath.SkipDir
			}
			if ignore != nil {
				loadGitignore(ignore, path, rel)
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(opts.IgnorePatterns, d.Name(), rel) || (ignore != nil && ignore.Match(rel, false)) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	slog.Debug("discover_complete", slog.String("root", root), slog.Int("files", len(files)))
	return files, nil
}

func (o DiscoverOptions) excluded(dir string) bool {
	for _, ex := range o.Exclude {
		if ex != "" && filepath.Clean(ex) == dir {
			return true
		}
	}
	return false
}

// Ignored reports whether path under root would be left out by discovery.
// Nested .gitignore files are not consulted; only the root one is.
func (o DiscoverOptions) Ignored(root, path string) bool {
	if !within(root, path) {
		return true
	}
	rel, _ := filepath.Rel(root, path)
	rel = filepath.ToSlash(rel)
	for _, ex := range o.Exclude {
		if ex != "" && within(ex, path) {
			return true
		}
	}
	if o.Policy.SkipRel(rel) || matchesAny(o.IgnorePatterns, filepath.Base(path), rel) {
		return true
	}
	if o.RespectGitignore {
		m := gitignore.New()
		loadGitignore(m, root, ".")
		return m.Match(rel, false)
	}
	return false
}

func loadGitignore(m *gitignore.Matcher, dir, rel string) {
	path := filepath.Join(dir, gitignore.FileName)
	if err := m.AddFromFile(path, rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("gitignore_unreadable", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func matchesAny(patterns []string, name, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// within reports whether path is dir or below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

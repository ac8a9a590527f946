package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the ignore file read from each directory.
const FileName = ".gitignore"

// Matcher holds compiled rules. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	glob     string // doublestar pattern relative to base
	negation bool
	dirOnly  bool
	base     string // slash-separated directory the rule applies under
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds a root-level pattern.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that applies only under base.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	r, ok := parse(pattern)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")
	if r.base == "." {
		r.base = ""
	}

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from an ignore file.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether the root-relative path is ignored. A path below an
// ignored directory is ignored regardless of negations, as in git.
func (m *Matcher) Match(p string, isDir bool) bool {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" || p == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	segments := strings.Split(p, "/")
	for i := 1; i < len(segments); i++ {
		if m.ignored(strings.Join(segments[:i], "/"), true) {
			return true
		}
	}
	return m.ignored(p, isDir)
}

// ignored applies the rules in order; the last matching rule wins.
func (m *Matcher) ignored(p string, isDir bool) bool {
	result := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		rel, ok := r.relative(p)
		if !ok {
			continue
		}
		if match, _ := doublestar.Match(r.glob, rel); match {
			result = !r.negation
		}
	}
	return result
}

func (r rule) relative(p string) (string, bool) {
	if r.base == "" {
		return p, true
	}
	if !strings.HasPrefix(p, r.base+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, r.base+"/"), true
}

// parse converts one gitignore line into a rule.
func parse(line string) (rule, bool) {
	if !strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line, " \t\r")
	}
	line = strings.TrimLeft(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negation = true
		line = line[1:]
	}
	line = strings.ReplaceAll(line, `\ `, " ")

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if line == "" {
		return rule{}, false
	}

	// A slash at the start or middle anchors the pattern to its base.
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}
	r.glob = path.Clean(line)
	if !doublestar.ValidatePattern(r.glob) {
		return rule{}, false
	}
	return r, true
}

// ParsePatterns returns the non-comment, non-empty lines of content.
func ParsePatterns(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if _, ok := parse(line); ok {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// MatchesAnyPattern reports whether p is ignored by any of patterns taken as
// root-level rules.
func MatchesAnyPattern(p string, patterns []string) bool {
	m := New()
	for _, pat := range patterns {
		m.AddPattern(pat)
	}
	return m.Match(p, false)
}

// Package ignore turns gitignore-style rule files into glob patterns and
// matches watch-root-relative paths against them.
//
// Patterns use doublestar syntax. A pattern ending in "/" only matches
// directories.
package ignore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"cloudy/internal/logger"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Defaults are always excluded regardless of the ignore file.
var Defaults = []string{
	".git",
	".git/**/*",
	"node_modules",
	"node_modules/**/*",
}

func Parse(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	patterns, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file %s: %w", path, err)
	}

	return patterns, nil
}

func ParseReader(r io.Reader) ([]string, error) {
	var patterns []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "!") {
			logger.Log.Warn("negated ignore rules are not supported, skipping",
				zap.String("rule", line))
			continue
		}

		line = strings.TrimPrefix(line, `\`)
		if p := toGlob(line); p != "" {
			patterns = append(patterns, p)
		}
	}

	return patterns, scanner.Err()
}

// toGlob converts one gitignore rule. A rule with a slash before its last
// character is anchored at the root, otherwise it matches at any depth.
func toGlob(rule string) string {
	dirOnly := strings.HasSuffix(rule, "/")
	rule = strings.TrimSuffix(rule, "/")

	anchored := strings.Contains(rule, "/")
	rule = strings.TrimPrefix(rule, "/")
	if rule == "" {
		return ""
	}

	if !anchored && !strings.HasPrefix(rule, "**/") {
		rule = "**/" + rule
	}
	if dirOnly {
		rule += "/"
	}

	return rule
}

type pattern struct {
	glob    string
	dirOnly bool
}

type Matcher struct {
	patterns []pattern
}

func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}

	for _, p := range patterns {
		glob := strings.TrimSuffix(p, "/")
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}

		m.patterns = append(m.patterns, pattern{
			glob:    glob,
			dirOnly: strings.HasSuffix(p, "/"),
		})
	}

	return m, nil
}

// Match reports whether rel, or any directory above it, is excluded. isDir
// tells whether rel itself is a directory.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil || rel == "" || rel == "." {
		return false
	}

	rel = strings.Trim(strings.ReplaceAll(rel, `\`, "/"), "/")
	parts := strings.Split(rel, "/")

	for i := range parts {
		candidate := strings.Join(parts[:i+1], "/")
		candidateIsDir := isDir || i < len(parts)-1

		for _, p := range m.patterns {
			if p.dirOnly && !candidateIsDir {
				continue
			}
			if ok, _ := doublestar.Match(p.glob, candidate); ok {
				return true
			}
		}
	}

	return false
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

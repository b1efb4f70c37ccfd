package routes

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternSentinel marks a PathMatcher that is interpreted as a regular expression.
const PatternSentinel = "^"

var pathMatcherFormat = regexp.MustCompile(`^(\^)?/[\w\-/]*$`)

// PathMatcher is a configured path prefix (e.g. "/api") or, when it starts
// with PatternSentinel, a regular expression (e.g. "^/api").
type PathMatcher string

// IsPattern reports whether m is interpreted as a regular expression.
func (m PathMatcher) IsPattern() bool {
	return strings.HasPrefix(string(m), PatternSentinel)
}

// Valid reports whether m satisfies the PathMatcher format.
func (m PathMatcher) Valid() bool {
	return pathMatcherFormat.MatchString(string(m))
}

// Matcher is a compiled PathMatcher.
type Matcher struct {
	key    PathMatcher
	re     *regexp.Regexp
	prefix string
}

// Compile validates m and prepares it for matching.
// Pattern matchers have the sentinel stripped; the remainder is compiled as
// a regular expression.
func Compile(m PathMatcher) (Matcher, error) {
	if !m.Valid() {
		return Matcher{}, invalidPathError(string(m))
	}
	if !m.IsPattern() {
		return Matcher{key: m, prefix: string(m)}, nil
	}
	re, err := regexp.Compile(strings.TrimPrefix(string(m), PatternSentinel))
	if err != nil {
		return Matcher{}, fmt.Errorf("%w: %v", invalidPathError(string(m)), err)
	}
	return Matcher{key: m, re: re}, nil
}

// Key returns the PathMatcher the Matcher was compiled from. It is the key of
// the matcher's entry in a Table.
func (m Matcher) Key() PathMatcher {
	return m.key
}

// Match reports whether path is selected by the matcher.
func (m Matcher) Match(path string) bool {
	if m.re != nil {
		return m.re.MatchString(path)
	}
	return strings.HasPrefix(path, m.prefix)
}

// CompileAll compiles every matcher, preserving order.
func CompileAll(keys []PathMatcher) ([]Matcher, error) {
	out := make([]Matcher, 0, len(keys))
	for _, k := range keys {
		m, err := Compile(k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FirstMatch returns the first matcher in order that selects path.
func FirstMatch(matchers []Matcher, path string) (Matcher, bool) {
	for _, m := range matchers {
		if m.Match(path) {
			return m, true
		}
	}
	return Matcher{}, false
}

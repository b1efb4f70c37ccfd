package routes

import (
	"errors"
	"fmt"
	"strings"
)

// Name prefixes construction errors and log lines.
const Name = "dynamic-proxy"

var (
	ErrDefaultTargetRequired = errors.New(Name + ": defaultTarget is required")
	ErrPathRequired          = errors.New(Name + ": path is required")
	ErrInvalidPath           = errors.New(Name + ": invalid path")
)

// pathError carries the exact message for a malformed PathMatcher while still
// matching ErrInvalidPath under errors.Is.
type pathError struct {
	path string
}

func (e *pathError) Error() string {
	return fmt.Sprintf(`%s: path %q must be a valid path (e.g., "/api") or start with ^ (e.g., "^/api")`, Name, e.path)
}

func (e *pathError) Is(target error) bool {
	return target == ErrInvalidPath
}

func invalidPathError(path string) error {
	return &pathError{path: path}
}

// Options are the construction inputs of the dynamic proxy.
type Options struct {
	DefaultTarget string
	Paths         []string
	// ChangeOrigin defaults to true when nil.
	ChangeOrigin *bool
}

// Config is a validated Options value.
type Config struct {
	DefaultTarget string
	Paths         []PathMatcher
	ChangeOrigin  bool
	Matchers      []Matcher
}

// Validate checks opts and returns the normalized configuration.
// Duplicate paths keep their first position.
func Validate(opts Options) (Config, error) {
	if strings.TrimSpace(opts.DefaultTarget) == "" {
		return Config{}, ErrDefaultTargetRequired
	}
	if len(opts.Paths) == 0 {
		return Config{}, ErrPathRequired
	}

	seen := make(map[PathMatcher]struct{}, len(opts.Paths))
	paths := make([]PathMatcher, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		pm := PathMatcher(p)
		if !pm.Valid() {
			return Config{}, invalidPathError(p)
		}
		if _, dup := seen[pm]; dup {
			continue
		}
		seen[pm] = struct{}{}
		paths = append(paths, pm)
	}

	matchers, err := CompileAll(paths)
	if err != nil {
		return Config{}, err
	}

	changeOrigin := true
	if opts.ChangeOrigin != nil {
		changeOrigin = *opts.ChangeOrigin
	}

	return Config{
		DefaultTarget: opts.DefaultTarget,
		Paths:         paths,
		ChangeOrigin:  changeOrigin,
		Matchers:      matchers,
	}, nil
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

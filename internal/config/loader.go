package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns an empty Config with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid entries stripped
// plus errors describing what was removed.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes with the same
// semantics as Load.
func Parse(data []byte) (*Config, []error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	cfg.DefaultTarget = strings.TrimSpace(cfg.DefaultTarget)

	validPaths := make(PathList, 0, len(cfg.Path))
	for i, p := range cfg.Path {
		if !routes.PathMatcher(p).Valid() {
			validationErrors = append(validationErrors, fmt.Errorf("path[%d]: %q must be a valid path (e.g., \"/api\") or start with ^ (e.g., \"^/api\")", i, p))
			continue
		}
		validPaths = append(validPaths, p)
	}
	cfg.Path = validPaths

	if cfg.Server.Frontend != "" && cfg.Server.StaticDir != "" {
		validationErrors = append(validationErrors, errors.New("server.staticDir: ignored because server.frontend is set"))
		cfg.Server.StaticDir = ""
	}

	return &cfg, validationErrors
}

// Options converts the file configuration into proxy construction options.
func (c *Config) Options() routes.Options {
	return routes.Options{
		DefaultTarget: c.DefaultTarget,
		Paths:         append([]string(nil), c.Path...),
		ChangeOrigin:  c.ChangeOrigin,
	}
}

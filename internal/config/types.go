package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration parsed from the YAML config file.
type Config struct {
	DefaultTarget string   `yaml:"defaultTarget" json:"defaultTarget"`
	Path          PathList `yaml:"path"          json:"path"`
	ChangeOrigin  *bool    `yaml:"changeOrigin"  json:"changeOrigin,omitempty"`
	Server        Server   `yaml:"server"        json:"server"`
}

// Server configures the development server hosting the proxy.
type Server struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
	BasePath   string `yaml:"basePath"   json:"basePath"`
	// Frontend is the URL of a frontend dev server receiving unmatched requests.
	Frontend string `yaml:"frontend" json:"frontend"`
	// StaticDir serves a built frontend from disk for unmatched requests.
	StaticDir string `yaml:"staticDir" json:"staticDir"`
}

// PathList accepts either a single path or a sequence of paths.
type PathList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PathList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*p = nil
			return nil
		}
		*p = PathList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: path must be a string or a list of strings", value.Line)
	}
}

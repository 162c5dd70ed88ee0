package services

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Services  []Service `yaml:"services"`
	SlowHosts []string  `yaml:"slow_hosts"`
}

// LoadFile reads a YAML service table. Missing sections fall back to the
// built-in defaults; an empty path returns Default().
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("services: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML service table.
func Parse(data []byte) (*Table, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("services: decode: %w", err)
	}
	list := fc.Services
	if len(list) == 0 {
		list = defaultServices
	}
	slow := fc.SlowHosts
	if slow == nil {
		slow = defaultSlowHosts
	}
	return NewTable(list, slow)
}

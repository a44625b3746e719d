package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of one catalog YAML file. A file may
// declare agents, tools, or both; files in a directory are merged.
type catalogFile struct {
	Agents []AgentSpec `yaml:"agents"`
	Tools  []Tool      `yaml:"tools"`
}

// LoadDir reads every .yaml/.yml file in dir, merges the declarations, and
// builds a validated Registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog directory %s: %w", dir, err)
	}

	var agents []AgentSpec
	var tools []Tool
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog file %s: %w", path, err)
		}

		var f catalogFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
		}
		agents = append(agents, f.Agents...)
		tools = append(tools, f.Tools...)
	}

	if len(tools) == 0 {
		return nil, fmt.Errorf("catalog directory %s defines no tools", dir)
	}

	reg, err := NewRegistry(agents, tools)
	if err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return reg, nil
}

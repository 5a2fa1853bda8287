package entity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mappings describes the indexable entity classes
type Mappings struct {
	Classes []ClassMapping `yaml:"classes"`
}

// ClassMapping maps an entity class onto a table
type ClassMapping struct {
	Name     string   `yaml:"name"`
	Table    string   `yaml:"table"`
	IDColumn string   `yaml:"id_column"`
	Fields   []string `yaml:"fields"`
}

func (m ClassMapping) idColumn() string {
	if m.IDColumn == "" {
		return "id"
	}
	return m.IDColumn
}

// Validate checks the mapping names a class, a table and safe identifiers
func (m ClassMapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: class name is required", ErrInvalidMapping)
	}
	if !identifierPattern.MatchString(m.Table) {
		return fmt.Errorf("%w: class %q: invalid table %q", ErrInvalidMapping, m.Name, m.Table)
	}
	if !identifierPattern.MatchString(m.idColumn()) {
		return fmt.Errorf("%w: class %q: invalid id column %q", ErrInvalidMapping, m.Name, m.IDColumn)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("%w: class %q: at least one field is required", ErrInvalidMapping, m.Name)
	}
	for _, field := range m.Fields {
		if !identifierPattern.MatchString(field) {
			return fmt.Errorf("%w: class %q: invalid field %q", ErrInvalidMapping, m.Name, field)
		}
	}
	return nil
}

// ParseMappings decodes and validates a YAML mapping document
func ParseMappings(data []byte) (*Mappings, error) {
	var mappings Mappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	seen := make(map[string]bool, len(mappings.Classes))
	for _, class := range mappings.Classes {
		if err := class.Validate(); err != nil {
			return nil, err
		}
		if seen[class.Name] {
			return nil, fmt.Errorf("%w: class %q declared twice", ErrInvalidMapping, class.Name)
		}
		seen[class.Name] = true
	}
	return &mappings, nil
}

// LoadMappings reads a YAML mapping file
func LoadMappings(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity mappings: %w", err)
	}
	return ParseMappings(data)
}

// Managers builds one SQL manager per mapped class
func (m *Mappings) Managers(source ReplicaSource) (map[string]Manager, error) {
	managers := make(map[string]Manager, len(m.Classes))
	for _, class := range m.Classes {
		manager, err := NewSQLManager(source, class)
		if err != nil {
			return nil, err
		}
		managers[class.Name] = manager
	}
	return managers, nil
}

// BuildRegistry loads path and returns a registry of SQL managers reading
// through source.
func BuildRegistry(path string, source ReplicaSource) (*Registry, error) {
	mappings, err := LoadMappings(path)
	if err != nil {
		return nil, err
	}
	managers, err := mappings.Managers(source)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	registry.Replace(managers)
	return registry, nil
}

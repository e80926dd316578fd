package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a registry source backed by a YAML contacts file:
//
//	contacts:
//	  - public_key: a1b2...
//	    name: Alice
//	    role: client
type File struct {
	Path string
}

type fileDocument struct {
	Contacts []Contact `yaml:"contacts"`
}

// NewFile creates a YAML file source.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Contacts(ctx context.Context) ([]Contact, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a contacts document.
func ParseYAML(data []byte) ([]Contact, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	return doc.Contacts, nil
}

// WriteYAML writes contacts to path in the format read by File.
func WriteYAML(path string, contacts []Contact) error {
	data, err := yaml.Marshal(&fileDocument{Contacts: contacts})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

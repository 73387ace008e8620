// Package schema loads collection definitions from YAML files and keeps
// an atomically swapped registry snapshot, optionally reloaded when the
// files change.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
)

// Parse decodes one collection file. Unknown keys are rejected.
func Parse(data []byte, ext *Extensions) (collection.Collection, error) {
	var f collectionFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return collection.Collection{}, fmt.Errorf("decode collection: %w: %w", domain.ErrInvalidSchema, err)
	}
	c, err := f.toCollection("", ext)
	if err != nil {
		return collection.Collection{}, fmt.Errorf("%w: %w", domain.ErrInvalidSchema, err)
	}
	return c, nil
}

// LoadDir parses every *.yaml and *.yml file of dir, in file name order.
func LoadDir(dir string, ext *Extensions) ([]collection.Collection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isSchemaFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	cols := make([]collection.Collection, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		c, err := Parse(data, ext)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func isSchemaFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

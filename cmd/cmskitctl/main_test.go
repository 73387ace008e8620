package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productsYAML = `
path: products
name: Products
schema:
  name: Product
  properties:
    name:
      data_type: string
    price:
      data_type: number
subcollections:
  - path: locales
    name: Locales
    schema:
      properties:
        title:
          data_type: string
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func schemaDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestValidate(t *testing.T) {
	dir := schemaDir(t, map[string]string{"products.yaml": productsYAML})

	out, err := run(t, "validate", "--schema-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "products (Products): 2 properties\n")
	assert.Contains(t, out, "  products/locales (Locales): 1 properties\n")
	assert.Contains(t, out, "1 collections OK")
}

func TestValidate_JSON(t *testing.T) {
	dir := schemaDir(t, map[string]string{"products.yaml": productsYAML})

	out, err := run(t, "validate", "--schema-dir", dir, "--json")
	require.NoError(t, err)

	var reports []collectionReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "products", reports[0].Path)
	require.Len(t, reports[0].Subcollections, 1)
}

func TestValidate_Invalid(t *testing.T) {
	dir := schemaDir(t, map[string]string{"broken.yaml": "path: ["})

	_, err := run(t, "validate", "--schema-dir", dir)
	assert.Error(t, err)
}

func TestExport_EmptyCollection(t *testing.T) {
	dir := schemaDir(t, map[string]string{"products.yaml": productsYAML})

	// Пустая in-memory база: только заголовок
	out, err := run(t, "export", "products", "--schema-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "\"id\",\"name\",\"price\"\r\n", out)
}

func TestExport_UnknownCollection(t *testing.T) {
	dir := schemaDir(t, map[string]string{"products.yaml": productsYAML})

	_, err := run(t, "export", "missing", "--schema-dir", dir)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cmskitctl dev")
}

func TestValidate_UnknownCustomView(t *testing.T) {
	const colorsYAML = `
path: colors
name: Colors
schema:
  name: Color
  properties:
    hex:
      data_type: string
      config:
        field: color_picker
`
	dir := schemaDir(t, map[string]string{"colors.yaml": colorsYAML})

	out, err := run(t, "validate", "--schema-dir", dir, "--custom-views", "map_picker")
	require.Error(t, err)
	assert.Contains(t, out, "colors (Colors): 1 properties\n  error: ")

	_, err = run(t, "validate", "--schema-dir", dir, "--custom-views", "color_picker")
	assert.NoError(t, err)
}

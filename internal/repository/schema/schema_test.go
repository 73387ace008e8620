package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

const productsYAML = `
path: products
name: Products
group: Shop
size: l
permissions:
  create: true
  edit: true
  delete: false
schema:
  name: Product
  custom_id:
    mode: enum
    values:
      - key: es
        label: Spanish
      - key: en
        label: English
  properties:
    name:
      data_type: string
      title: Name
      validation:
        required: true
    price:
      data_type: number
    meta:
      data_type: map
      properties:
        sku:
          data_type: string
subcollections:
  - path: locales
    name: Locales
    schema:
      properties:
        title:
          data_type: string
`

const blogYAML = `
path: blog
name: Blog
schema:
  name: Post
  properties:
    title:
      data_type: string
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(productsYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, "products", c.Path())
	assert.Equal(t, "Products", c.Name())
	assert.Equal(t, "Shop", c.Group())
	assert.Equal(t, layout.L, c.Size())
	assert.Equal(t, auth.Permissions{Create: true, Edit: true}, c.Permissions(auth.Full()))

	s := c.Schema()
	assert.Equal(t, "Product", s.Name)
	assert.Equal(t, collection.IDEnum, s.IDMode())
	assert.Len(t, s.CustomID.Values, 2)
	assert.Equal(t, []string{"name", "price", "meta"}, s.Properties.Keys())

	name, ok := s.Properties.Get("name")
	require.True(t, ok)
	assert.True(t, name.IsRequired())

	subs := c.Subcollections()
	require.Len(t, subs, 1)
	assert.Equal(t, "locales", subs[0].Path())
	// Имя схемы берётся из имени коллекции, если не задано.
	assert.Equal(t, "Locales", subs[0].Schema().Name)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "path: x\nname: X\nbogus: 1\nschema:\n  properties:\n    a:\n      data_type: string\n",
		"bad size":      "path: x\nname: X\nsize: huge\nschema:\n  properties:\n    a:\n      data_type: string\n",
		"bad path":      "path: a/b\nname: X\nschema:\n  properties:\n    a:\n      data_type: string\n",
		"no properties": "path: x\nname: X\nschema:\n  name: X\n",
		"bad id mode":   "path: x\nname: X\nschema:\n  custom_id:\n    mode: random\n  properties:\n    a:\n      data_type: string\n",
		"not yaml":      "path: [",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), nil)
			assert.ErrorIs(t, err, domain.ErrInvalidSchema)
		})
	}
}

func TestParse_Extensions(t *testing.T) {
	ext := NewExtensions()
	called := false
	ext.SetCallbacks("products", collection.Callbacks{
		OnPreDelete: func(context.Context, collection.DeleteHookInput) error {
			called = true
			return nil
		},
	})
	ext.SetBuilder("/products/", "meta.sku", func(bc property.BuildContext) (*property.Property, error) {
		return &property.Property{DataType: property.String, ReadOnly: bc.EntityID != ""}, nil
	})
	ext.SetBuilder("products/locales", "slug", func(property.BuildContext) (*property.Property, error) {
		return &property.Property{DataType: property.String}, nil
	})

	c, err := Parse([]byte(productsYAML), ext)
	require.NoError(t, err)

	require.NotNil(t, c.Schema().Callbacks.OnPreDelete)
	require.NoError(t, c.Schema().Callbacks.OnPreDelete(context.Background(), collection.DeleteHookInput{}))
	assert.True(t, called)

	meta, _ := c.Schema().Properties.Get("meta")
	sku, ok := meta.Properties.Get("sku")
	require.True(t, ok)
	assert.True(t, sku.IsBuilder())

	slug, ok := c.Subcollections()[0].Schema().Properties.Get("slug")
	require.True(t, ok)
	assert.True(t, slug.IsBuilder())
}

func TestParse_BuilderIntoScalar(t *testing.T) {
	ext := NewExtensions()
	ext.SetBuilder("products", "name.first", func(property.BuildContext) (*property.Property, error) {
		return nil, nil
	})
	_, err := Parse([]byte(productsYAML), ext)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_products.yaml", productsYAML)
	writeFile(t, dir, "a_blog.yml", blogYAML)
	writeFile(t, dir, "README.md", "not a schema")
	writeFile(t, dir, ".hidden.yaml", "garbage: [")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	cols, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "blog", cols[0].Path())
	assert.Equal(t, "products", cols[1].Path())
}

func TestLoadDir_NamesBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "path: [")

	_, err := LoadDir(dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func staticCollection(t *testing.T, path string) collection.Collection {
	t.Helper()
	c, err := collection.New(path, "Static", &collection.Schema{
		Name: "Static",
		Properties: property.NewProperties(
			property.Named("label", &property.Property{DataType: property.String}),
		),
	})
	require.NoError(t, err)
	return c
}

func TestSource_MergesStaticCollections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blog.yaml", blogYAML)

	s, err := NewSource(dir, nil, staticCollection(t, "settings"))
	require.NoError(t, err)

	all := s.Registry().All()
	require.Len(t, all, 2)
	assert.Equal(t, "settings", all[0].Path())

	c, err := s.ByPath("blog")
	require.NoError(t, err)
	assert.Equal(t, "Blog", c.Name())
}

func TestSource_NoDirectory(t *testing.T) {
	s, err := NewSource("", nil, staticCollection(t, "settings"))
	require.NoError(t, err)
	assert.Len(t, s.Registry().All(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Watch(ctx, 0))
}

func TestSource_DuplicatePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blog.yaml", blogYAML)

	_, err := NewSource(dir, nil, staticCollection(t, "blog"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSource_ReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blog.yaml", blogYAML)
	s, err := NewSource(dir, nil)
	require.NoError(t, err)
	before := s.Registry()

	require.NoError(t, s.HealthCheck(context.Background()))

	writeFile(t, dir, "blog.yaml", "path: [")
	require.Error(t, s.Reload())
	assert.Same(t, before, s.Registry())
	assert.ErrorIs(t, s.HealthCheck(context.Background()), domain.ErrInvalidSchema)

	writeFile(t, dir, "blog.yaml", blogYAML)
	writeFile(t, dir, "products.yaml", productsYAML)
	require.NoError(t, s.Reload())
	assert.Len(t, s.Registry().All(), 2)
	assert.NoError(t, s.HealthCheck(context.Background()))
}

func TestSource_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blog.yaml", blogYAML)
	s, err := NewSource(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 20*time.Millisecond) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Файл пишется до того, как watcher успел подписаться, поэтому
	// пишем повторно, пока изменения не будут подхвачены.
	assert.Eventually(t, func() bool {
		writeFile(t, dir, "products.yaml", productsYAML)
		_, err := s.ByPath("products")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

// Package upload implements the storage field: the list of committed and
// in-flight files behind a storage-backed string or string array property.
package upload

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	"github.com/kailas-cloud/cmskit/internal/metrics"
)

// Item is one entry of a storage field. It is either committed, holding
// the stored path or download URL, or pending, holding the file being
// uploaded.
type Item struct {
	ID                       string            `json:"id"`
	StoragePathOrDownloadURL string            `json:"storage_path_or_download_url,omitempty"`
	FileName                 string            `json:"file_name,omitempty"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
	Err                      string            `json:"error,omitempty"`

	File *File `json:"-"`
}

// Pending reports whether the item is still uploading.
func (i Item) Pending() bool { return i.StoragePathOrDownloadURL == "" }

// FieldConfig describes one storage field instance.
type FieldConfig struct {
	Name     string
	Property *property.Property
	EntityID string
	Values   map[string]any
	Storage  StorageSource
	// OnChange receives a string (or nil) in single mode and a []string in
	// multiple mode after every committed change.
	OnChange func(v any)
	Logger   *zap.Logger
}

// Field owns the items of a storage property. Uploads run concurrently;
// their completion is ignored once the field is unmounted or the item was
// replaced.
type Field struct {
	cfg      FieldConfig
	meta     *property.StorageMeta
	multiple bool
	logger   *zap.Logger

	mu        sync.Mutex
	items     []Item
	unmounted bool

	wg sync.WaitGroup
}

// NewField seeds a field from the current value. It fails with a
// configuration error when the property carries no storage metadata or is
// an array of something other than strings.
func NewField(cfg FieldConfig, value any) (*Field, error) {
	p := cfg.Property
	if p == nil {
		return nil, domain.NewConfigError(cfg.Name, "storage field without property")
	}
	multiple := p.DataType == property.Array
	if multiple && (p.Of == nil || p.Of.DataType != property.String) {
		return nil, domain.NewConfigError(cfg.Name, "storage field using array must be of data type string")
	}
	meta := p.Storage()
	if multiple {
		meta = p.Of.Storage()
	}
	if meta == nil {
		return nil, domain.NewConfigError(cfg.Name, "storage meta must be specified")
	}
	if cfg.Storage == nil {
		return nil, domain.NewConfigError(cfg.Name, "no storage source configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Field{
		cfg:      cfg,
		meta:     meta,
		multiple: multiple,
		logger:   logger.With(zap.String("field", cfg.Name), zap.String("entity_id", cfg.EntityID)),
	}
	f.items = f.seed(value)
	return f, nil
}

// Multiple reports whether the field holds a list of files.
func (f *Field) Multiple() bool { return f.multiple }

func (f *Field) seed(value any) []Item {
	var paths []string
	switch v := value.(type) {
	case nil:
	case string:
		if v != "" {
			paths = []string{v}
		}
	default:
		if list, ok := entity.AsSlice(v); ok {
			for _, x := range list {
				if s, ok := x.(string); ok && s != "" {
					paths = append(paths, s)
				}
			}
		}
	}
	if !f.multiple && len(paths) > 1 {
		paths = paths[:1]
	}
	items := make([]Item, 0, len(paths))
	for _, p := range paths {
		items = append(items, Item{ID: newID(), StoragePathOrDownloadURL: p, Metadata: f.meta.Metadata})
	}
	return removeDuplicates(items)
}

// SetValue resynchronizes the items with an externally changed value.
// Pending uploads are dropped.
func (f *Field) SetValue(value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = f.seed(value)
}

// Items returns a copy of the current items.
func (f *Field) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// Value returns the committed value: a string or nil in single mode, a
// []string in multiple mode.
func (f *Field) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valueLocked()
}

func (f *Field) valueLocked() any {
	paths := make([]string, 0, len(f.items))
	for _, it := range f.items {
		if !it.Pending() {
			paths = append(paths, it.StoragePathOrDownloadURL)
		}
	}
	if f.multiple {
		return paths
	}
	if len(paths) == 0 {
		return nil
	}
	return paths[0]
}

// Drop adds files and starts uploading them. In single mode the first file
// replaces every current item. Duplicated files are ignored. File names are
// built before anything changes, so a failing builder leaves the field
// untouched.
func (f *Field) Drop(ctx context.Context, files ...*File) error {
	if len(files) == 0 {
		return nil
	}
	if !f.multiple {
		files = files[:1]
	}
	added := make([]Item, 0, len(files))
	for _, file := range files {
		name, err := f.fileName(file)
		if err != nil {
			return err
		}
		added = append(added, Item{ID: newID(), File: file, FileName: name, Metadata: f.meta.Metadata})
	}

	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return domain.ErrUnmounted
	}
	if f.multiple {
		f.items = removeDuplicates(append(f.items, added...))
	} else {
		f.items = added
	}
	var start []Item
	for _, a := range added {
		if f.indexLocked(a.ID) >= 0 {
			start = append(start, a)
		}
	}
	f.wg.Add(len(start))
	f.mu.Unlock()

	for _, it := range start {
		go f.upload(context.WithoutCancel(ctx), it)
	}
	return nil
}

func (f *Field) upload(ctx context.Context, it Item) {
	defer f.wg.Done()

	stored, err := f.store(ctx, it)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		f.logger.Warn("Upload failed", zap.String("file_name", it.FileName), zap.Error(err))
	} else {
		metrics.UploadsTotal.WithLabelValues("ok").Inc()
	}

	f.mu.Lock()
	i := f.indexLocked(it.ID)
	if f.unmounted || i < 0 {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.items[i].Err = err.Error()
		f.mu.Unlock()
		return
	}
	f.items[i].StoragePathOrDownloadURL = stored
	f.items[i].File = nil
	f.items = removeDuplicates(f.items)
	value := f.valueLocked()
	f.mu.Unlock()

	f.emit(value)
}

// store uploads one file and returns the value to keep for it: the stored
// path, or its download URL when the property asks for it, passed through
// the optional post-processing hook.
func (f *Field) store(ctx context.Context, it Item) (string, error) {
	dir, err := f.storagePath(it.File)
	if err != nil {
		return "", err
	}
	res, err := f.cfg.Storage.UploadFile(ctx, UploadRequest{
		File:     it.File,
		FileName: it.FileName,
		Path:     dir,
		Metadata: it.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	out := res.Path
	if f.meta.StoreURL {
		out, err = f.cfg.Storage.GetDownloadURL(ctx, res.Path)
		if err != nil {
			return "", fmt.Errorf("get download url: %w", err)
		}
	}
	if f.meta.PostProcess != nil {
		out, err = f.meta.PostProcess(ctx, out)
		if err != nil {
			return "", fmt.Errorf("post process: %w", err)
		}
	}
	return out, nil
}

// Remove clears one committed entry. In single mode it empties the field.
func (f *Field) Remove(storagePathOrURL string) {
	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return
	}
	if f.multiple {
		kept := f.items[:0:0]
		for _, it := range f.items {
			if it.StoragePathOrDownloadURL != storagePathOrURL {
				kept = append(kept, it)
			}
		}
		f.items = kept
	} else {
		f.items = nil
	}
	value := f.valueLocked()
	f.mu.Unlock()
	f.emit(value)
}

// Unmount stops applying upload results. In-flight uploads keep running.
func (f *Field) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounted = true
	f.items = nil
}

// Wait blocks until every started upload has finished.
func (f *Field) Wait() { f.wg.Wait() }

func (f *Field) emit(value any) {
	if f.cfg.OnChange != nil {
		f.cfg.OnChange(value)
	}
}

func (f *Field) indexLocked(id string) int {
	for i, it := range f.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (f *Field) uploadContext(file *File) property.UploadContext {
	uc := property.UploadContext{
		EntityID: f.cfg.EntityID,
		Values:   f.cfg.Values,
		Name:     f.cfg.Name,
		Property: f.cfg.Property,
	}
	if file != nil {
		uc.FileName = file.Name
		uc.ContentType = file.ContentType
		uc.Size = file.Size
	}
	return uc
}

func (f *Field) fileName(file *File) (string, error) {
	if file == nil {
		return "", fmt.Errorf("nil file: %w", domain.ErrInvalidPath)
	}
	if f.meta.FileNameBuilder == nil {
		return path.Base(file.Name), nil
	}
	name := f.meta.FileNameBuilder(f.uploadContext(file))
	if name == "" {
		return "", domain.NewConfigError(f.cfg.Name, "you need to return a valid filename")
	}
	return name, nil
}

func (f *Field) storagePath(file *File) (string, error) {
	if f.meta.StoragePathBuilder != nil {
		dir := f.meta.StoragePathBuilder(f.uploadContext(file))
		if dir == "" {
			return "", domain.NewConfigError(f.cfg.Name, "you need to return a valid storage path")
		}
		return dir, nil
	}
	if f.meta.StoragePath != "" {
		return f.meta.StoragePath, nil
	}
	f.logger.Warn("Storage path not specified, using the storage root")
	return "/", nil
}

// removeDuplicates keeps the first item per stored path and per pending
// file.
func removeDuplicates(items []Item) []Item {
	paths := make(map[string]bool, len(items))
	files := make(map[*File]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		if it.StoragePathOrDownloadURL != "" {
			if paths[it.StoragePathOrDownloadURL] {
				continue
			}
			paths[it.StoragePathOrDownloadURL] = true
		}
		if it.File != nil {
			if files[it.File] {
				continue
			}
			files[it.File] = true
		}
		out = append(out, it)
	}
	return out
}

func newID() string { return ulid.Make().String() }

package upload

import (
	"context"
	"io"
)

// File is a file handle offered to a storage field. Two drops of the same
// *File are the same file.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadRequest is one write to the storage source.
type UploadRequest struct {
	File     *File
	FileName string
	Path     string
	Metadata map[string]string
}

// UploadResult names the stored object.
type UploadResult struct {
	Path string
}

// StorageSource stores files and resolves their download URLs.
type StorageSource interface {
	UploadFile(ctx context.Context, req UploadRequest) (UploadResult, error)
	GetDownloadURL(ctx context.Context, path string) (string, error)
}

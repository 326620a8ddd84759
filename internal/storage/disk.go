// Package storage keeps uploaded product images. Products only hold the
// returned reference; the bytes live on local disk or in an S3 bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ariefcatur/go-marketplace/internal/config"
	"github.com/google/uuid"
)

// Disk stores objects and hands back a public reference to them.
type Disk interface {
	// Put writes r under name and returns the reference clients use to fetch it.
	Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
	// Delete removes the object behind ref. Unknown refs are not an error.
	Delete(ctx context.Context, ref string) error
}

// New picks the driver from config.
func New(ctx context.Context, cfg config.Config) (Disk, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalDisk(cfg.UploadDir, cfg.UploadURLPrefix)
	case "s3":
		return NewS3Disk(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}

// ObjectName builds a collision-free name that keeps the upload's extension.
func ObjectName(original string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(original, "\\", "/"))))
	if len(ext) > 10 {
		ext = ""
	}
	return uuid.NewString() + ext
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalDisk writes into Root and serves refs as Prefix + "/" + name,
// matching how the API exposes the upload directory.
type LocalDisk struct {
	Root   string
	Prefix string
}

func NewLocalDisk(root, prefix string) (*LocalDisk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage/local: mkdir %s: %w", root, err)
	}
	return &LocalDisk{Root: root, Prefix: "/" + strings.Trim(prefix, "/")}, nil
}

func (d *LocalDisk) Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "", errors.New("storage/local: empty object name")
	}
	f, err := os.Create(filepath.Join(d.Root, name))
	if err != nil {
		return "", fmt.Errorf("storage/local: create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("storage/local: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage/local: close %s: %w", name, err)
	}
	return d.Prefix + "/" + name, nil
}

func (d *LocalDisk) Delete(ctx context.Context, ref string) error {
	name, ok := strings.CutPrefix(ref, d.Prefix+"/")
	if !ok || name == "" {
		return nil // bukan file kita
	}
	err := os.Remove(filepath.Join(d.Root, filepath.Base(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/CatalogImport/internal/model"
)

// FileResolver makes the file attached to a version available on local disk.
type FileResolver interface {
	// Open returns a local path for the version's file and a function that
	// releases it.
	Open(ctx context.Context, v *model.DatasetVersion) (path string, release func(), err error)
	Exists(ctx context.Context, v *model.DatasetVersion) (bool, error)
}

// LocalFiles resolves version files relative to a media root.
type LocalFiles struct {
	Root string
}

func (l LocalFiles) path(v *model.DatasetVersion) string {
	p := v.FilePath
	if p == "" {
		p = v.ObjectKey
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}

func (l LocalFiles) Open(_ context.Context, v *model.DatasetVersion) (string, func(), error) {
	return l.path(v), func() {}, nil
}

func (l LocalFiles) Exists(_ context.Context, v *model.DatasetVersion) (bool, error) {
	_, err := os.Stat(l.path(v))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ObjectStore is the subset of the S3 client the resolver needs.
type ObjectStore interface {
	Download(ctx context.Context, objectKey, dst string) error
	Exists(ctx context.Context, objectKey string) (bool, error)
}

// ObjectFiles downloads version files from object storage into a temporary
// directory for the duration of a run.
type ObjectFiles struct {
	Store   ObjectStore
	TempDir string
}

func objectKey(v *model.DatasetVersion) string {
	if v.ObjectKey != "" {
		return v.ObjectKey
	}
	return v.FilePath
}

func (o ObjectFiles) Open(ctx context.Context, v *model.DatasetVersion) (string, func(), error) {
	dir, err := os.MkdirTemp(o.TempDir, "import-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	release := func() { _ = os.RemoveAll(dir) }
	dst := filepath.Join(dir, v.FileName())
	if err := o.Store.Download(ctx, objectKey(v), dst); err != nil {
		release()
		return "", nil, err
	}
	return dst, release, nil
}

func (o ObjectFiles) Exists(ctx context.Context, v *model.DatasetVersion) (bool, error) {
	return o.Store.Exists(ctx, objectKey(v))
}

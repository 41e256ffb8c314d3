// Package storage provides the StorageProvider links used by the router.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// Local stores variants on the local filesystem under
// <root>/<upload type>/<unique name> and returns URL-style references.
type Local struct {
	rootDir     string
	urlPrefix   string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter. Directories are created lazily
// on first write.
func NewLocal(cfg config.LocalConfig) *Local {
	perm := os.FileMode(cfg.Permissions)
	if perm == 0 {
		perm = 0o644
	}
	return &Local{
		rootDir:     cfg.RootDir,
		urlPrefix:   "/" + strings.Trim(cfg.URLPrefix, "/"),
		permissions: perm,
	}
}

func (l *Local) Name() string               { return "local" }
func (l *Local) Target() core.StorageTarget { return core.TargetLocal }
func (l *Local) Configured() bool           { return l.rootDir != "" }

func (l *Local) absPath(key core.StorageKey) string {
	// Bucket maps to a subdirectory; Path is the filename.
	return filepath.Join(l.rootDir, filepath.Base(key.Bucket), filepath.Base(key.Path))
}

// Put writes data to a new file. It never overwrites: an existing file with
// the same name is reported as a retryable collision.
func (l *Local) Put(ctx context.Context, key core.StorageKey, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	p := l.absPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, l.permissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", apperrors.Transient("local.put.open", fmt.Errorf("name collision: %s", key.Path))
		}
		return "", apperrors.Wrap(apperrors.CategoryStorage, "local.put.open", err)
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(p)
		return "", apperrors.Wrap(apperrors.CategoryStorage, "local.put.write", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return "", apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", err)
	}
	return path.Join(l.urlPrefix, filepath.Base(key.Bucket), filepath.Base(key.Path)), nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	if err := os.Remove(l.absPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	return nil
}

var _ core.StorageProvider = (*Local)(nil)

// Package upload implements the file upload boundary: a blob goes in,
// a publicly resolvable reference string comes out. Only the reference
// is ever stored in a document.
package upload

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Uploader is the narrow contract the catalog consumes.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// FSUploader stores blobs under a local directory served by the host
// environment at BaseURL.
type FSUploader struct {
	dir     string
	baseURL string
	log     *zap.Logger
}

func NewFSUploader(dir, baseURL string, log *zap.Logger) *FSUploader {
	return &FSUploader{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log.Named("upload"),
	}
}

func (u *FSUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	name = path.Base(path.Clean(name))
	if name == "." || name == "/" {
		return "", errors.New("empty upload name")
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "upload dir")
	}
	dst := filepath.Join(u.dir, name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write upload")
	}
	u.log.Debug("stored upload", zap.String("name", name), zap.Int("bytes", len(data)))
	return u.baseURL + "/" + name, nil
}

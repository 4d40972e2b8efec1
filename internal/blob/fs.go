// Package blob stores message attachments on the local filesystem.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pliu/parley/internal/models"
	"github.com/zeebo/blake3"
)

// Store persists attachment bytes and hands back a URL the message can
// reference.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, declaredSize, maxSize int64) (*models.Attachment, error)
	Delete(ctx context.Context, url string) error
}

const messagesDir = "messages"

// FSStore writes under root and serves the files from urlPrefix.
type FSStore struct {
	root      string
	urlPrefix string
}

var _ Store = (*FSStore)(nil)

func NewFSStore(root, urlPrefix string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, messagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FSStore{root: root, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// Put copies r to a new uniquely named file. A maxSize of zero or less means
// no limit. Nothing is left on disk when Put fails.
func (s *FSStore) Put(ctx context.Context, name string, r io.Reader, declaredSize, maxSize int64) (*models.Attachment, error) {
	if maxSize > 0 && declaredSize > maxSize {
		return nil, &models.AttachmentTooLargeError{Quota: maxSize, Size: declaredSize}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := uuid.NewString() + strings.ToLower(path.Ext(name))
	full := filepath.Join(s.root, messagesDir, filename)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	hasher := blake3.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil && maxSize > 0 && written > maxSize {
		err = &models.AttachmentTooLargeError{Quota: maxSize, Size: written}
	}
	if err != nil {
		os.Remove(full)
		return nil, err
	}

	return &models.Attachment{
		URL:      s.urlPrefix + "/" + messagesDir + "/" + filename,
		Name:     filepath.Base(name),
		Size:     written,
		Category: models.CategoryFor(name),
		Digest:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Delete removes the file behind url. Unknown files are not an error.
func (s *FSStore) Delete(_ context.Context, url string) error {
	rel, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok || rel == "" {
		return fmt.Errorf("blob url %q outside %s", url, s.urlPrefix)
	}
	rel = path.Clean(rel)
	if !fs.ValidPath(rel) {
		return fmt.Errorf("invalid blob path %q", rel)
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		slog.Debug("blob_deleted", "url", url)
	}
	return err
}

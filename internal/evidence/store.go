// Package evidence stores the images players submit as proof for duel tasks.
package evidence

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/rogers-f/taskraid/internal/domain"
)

// MaxSize is the largest accepted evidence blob.
const MaxSize = 10 << 20

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// Store keeps evidence blobs under a root directory. Keys have the form
// "<duel>/<uuid><ext>".
type Store struct {
	fs afero.Fs
}

// NewStore returns a store rooted at dir on the OS filesystem.
func NewStore(dir string) (*Store, error) {
	if err := afero.NewOsFs().MkdirAll(dir, 0o755); err != nil {
		return nil, domain.WrapEngineError(domain.ErrEvidenceStore.Code, "create evidence dir", err)
	}
	return NewStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewStoreFs returns a store backed by fs.
func NewStoreFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Save writes data and returns its key.
func (s *Store) Save(_ context.Context, duelID string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", domain.Detail(domain.ErrInvalidInput, "evidence image is empty")
	}
	if len(data) > MaxSize {
		return "", domain.Detail(domain.ErrInvalidInput, "evidence image exceeds %d bytes", MaxSize)
	}
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return "", domain.Detail(domain.ErrInvalidInput, "unsupported evidence type %q", contentType)
	}
	if !validSegment(duelID) {
		return "", domain.Detail(domain.ErrInvalidInput, "invalid duel id %q", duelID)
	}

	key := path.Join(duelID, uuid.NewString()+ext)
	if err := s.fs.MkdirAll(duelID, 0o755); err != nil {
		return "", domain.WrapEngineError(domain.ErrEvidenceStore.Code, "create duel dir", err)
	}
	tmp := key + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", domain.WrapEngineError(domain.ErrEvidenceStore.Code, "write evidence", err)
	}
	if err := s.fs.Rename(tmp, key); err != nil {
		_ = s.fs.Remove(tmp)
		return "", domain.WrapEngineError(domain.ErrEvidenceStore.Code, "commit evidence", err)
	}
	return key, nil
}

// Open returns a reader for a stored blob.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, domain.Detail(domain.ErrInvalidInput, "invalid evidence key %q", key)
	}
	f, err := s.fs.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open evidence: %w", err)
	}
	return f, nil
}

// Delete removes a stored blob. Deleting a missing blob is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return domain.Detail(domain.ErrInvalidInput, "invalid evidence key %q", key)
	}
	exists, err := afero.Exists(s.fs, key)
	if err != nil || !exists {
		return err
	}
	if err := s.fs.Remove(key); err != nil {
		return domain.WrapEngineError(domain.ErrEvidenceStore.Code, "delete evidence", err)
	}
	return nil
}

// ContentType returns the MIME type for a stored key.
func ContentType(key string) string {
	ext := path.Ext(key)
	for ct, e := range extensions {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func validKey(key string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 2 && validSegment(parts[0]) && validSegment(parts[1])
}

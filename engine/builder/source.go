package builder

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sync"

	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/pkg/fn"
)

// Source enumerates the image collection and reads image bytes by id.
type Source interface {
	IDs(ctx context.Context) ([]domain.ImageID, error)
	Read(ctx context.Context, id domain.ImageID) ([]byte, error)
}

// DirSource is a flat directory of <id>.jpg files.
type DirSource struct {
	fsys fs.FS

	mu    sync.RWMutex
	names map[domain.ImageID]string
}

// NewDirSource returns a source over the root of fsys.
func NewDirSource(fsys fs.FS) *DirSource {
	return &DirSource{fsys: fsys}
}

// FS returns the underlying file system.
func (s *DirSource) FS() fs.FS { return s.fsys }

// IDs lists the regular files whose names match the id contract, ascending
// by numeric id. Two names that parse to the same id (01.jpg and 1.jpg)
// fail with domain.ErrDuplicateID.
func (s *DirSource) IDs(ctx context.Context) ([]domain.ImageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("builder: list images: %w", err)
	}

	type named struct {
		id   domain.ImageID
		name string
	}
	found := fn.FilterMap(entries, func(e fs.DirEntry) (named, bool) {
		id, err := domain.ParseImageFilename(e.Name())
		if err != nil || !s.regular(e) {
			return named{}, false
		}
		return named{id: id, name: e.Name()}, true
	})
	slices.SortFunc(found, func(a, b named) int { return cmp.Compare(a.id, b.id) })

	names := make(map[domain.ImageID]string, len(found))
	ids := make([]domain.ImageID, len(found))
	for i, f := range found {
		if prev, dup := names[f.id]; dup {
			return nil, fmt.Errorf("builder: %s and %s: %w", prev, f.name, domain.ErrDuplicateID)
		}
		names[f.id] = f.name
		ids[i] = f.id
	}

	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return ids, nil
}

// regular reports whether e is a regular file, following symlinks.
func (s *DirSource) regular(e fs.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := fs.Stat(s.fsys, e.Name())
	return err == nil && info.Mode().IsRegular()
}

// Name returns the file name backing id, as seen by the last IDs call.
func (s *DirSource) Name(id domain.ImageID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[id]
	return name, ok
}

// Read returns the bytes of the image with the given id.
func (s *DirSource) Read(ctx context.Context, id domain.ImageID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, ok := s.Name(id)
	if !ok {
		name = id.Filename()
	}
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("builder: read %s: %w", name, err)
	}
	return data, nil
}

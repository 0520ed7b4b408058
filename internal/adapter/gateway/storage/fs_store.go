package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/infra/persistence/file"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// FSStore implements ArtifactStore on a filesystem
// Directory structure: <root>/{.specs,.reports,.plans,.state}/
// Locators are paths relative to root.
type FSStore struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// NewFSStore creates a filesystem-backed artifact store
func NewFSStore(fs afero.Fs, root string) *FSStore {
	if root == "" {
		root = "."
	}
	return &FSStore{fs: fs, root: root, now: time.Now}
}

// Root returns the store root directory
func (s *FSStore) Root() string {
	return s.root
}

// Write persists a new artifact. An existing file is never replaced;
// a name collision moves on to the next -N suffix.
func (s *FSStore) Write(ctx context.Context, req repository.WriteRequest) (*repository.Artifact, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}
	base, err := relativePath(req)
	if err != nil {
		return nil, persistenceError(req, err)
	}

	for n := 1; n <= maxCollisionSuffix; n++ {
		if err := ctx.Err(); err != nil {
			return nil, persistenceError(req, err)
		}
		rel := specpath.WithSuffix(base, n)
		err := file.WriteFileOnce(s.fs, s.abs(rel), req.Content)
		if errors.Is(err, file.ErrExists) {
			continue
		}
		if err != nil {
			return nil, persistenceError(req, err)
		}
		return &repository.Artifact{
			Locator:   rel,
			Category:  req.Category,
			Size:      int64(len(req.Content)),
			CreatedAt: req.Timestamp,
		}, nil
	}
	return nil, persistenceError(req, fmt.Errorf("no free name for %s after %d attempts", base, maxCollisionSuffix))
}

// Read returns the content of an artifact
func (s *FSStore) Read(ctx context.Context, locator string) ([]byte, error) {
	rel, err := cleanLocator(locator)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", locator, err)
	}
	return data, nil
}

// Exists reports whether the artifact exists
func (s *FSStore) Exists(ctx context.Context, locator string) (bool, error) {
	rel, err := cleanLocator(locator)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, s.abs(rel))
}

// List returns artifact locators of one category sorted by name
func (s *FSStore) List(ctx context.Context, category repository.Category) ([]string, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("unknown artifact category %q", category)
	}
	entries, err := afero.ReadDir(s.fs, s.abs(category.Dir()))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", category, err)
	}

	locators := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		locators = append(locators, path.Join(category.Dir(), e.Name()))
	}
	sort.Strings(locators)
	return locators, nil
}

func (s *FSStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

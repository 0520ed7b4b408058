package repository

import (
	"context"
	"time"
)

// Category is one of the fixed artifact directories
type Category string

const (
	CategorySpecs   Category = "specs"
	CategoryReports Category = "reports"
	CategoryPlans   Category = "plans"
	CategoryState   Category = "state"
)

// Dir returns the on-disk directory name of the category
func (c Category) Dir() string {
	return "." + string(c)
}

// IsValid returns true for the known categories
func (c Category) IsValid() bool {
	switch c {
	case CategorySpecs, CategoryReports, CategoryPlans, CategoryState:
		return true
	default:
		return false
	}
}

// WriteRequest describes an artifact to persist.
// Kind is the report kind or workflow type used in the file name.
type WriteRequest struct {
	Category  Category
	Slug      string
	Kind      string
	Content   []byte
	Timestamp time.Time
}

// Artifact is a persisted, immutable output
type Artifact struct {
	Locator   string
	Category  Category
	Size      int64
	CreatedAt time.Time
}

// ArtifactReader reads artifacts by locator
type ArtifactReader interface {
	Read(ctx context.Context, locator string) ([]byte, error)
	Exists(ctx context.Context, locator string) (bool, error)
}

// ArtifactWriter persists new artifacts. Existing artifacts are never overwritten.
type ArtifactWriter interface {
	Write(ctx context.Context, req WriteRequest) (*Artifact, error)
}

// ArtifactStore is the full artifact store
type ArtifactStore interface {
	ArtifactReader
	ArtifactWriter

	// List returns the locators in a category sorted by name
	List(ctx context.Context, category Category) ([]string, error)
}

package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
	"github.com/YoshitsuguKoike/deerun/internal/infra/guard"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
)

// maxCollisionSuffix bounds the -2, -3... search for a free name
const maxCollisionSuffix = 100

// relativePath computes the canonical relative path of a new artifact
func relativePath(req repository.WriteRequest) (string, error) {
	if req.Slug == "" || strings.ContainsAny(req.Slug, `/\`) || req.Slug == "." || req.Slug == ".." {
		return "", fmt.Errorf("invalid slug %q", req.Slug)
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var p string
	switch req.Category {
	case repository.CategorySpecs:
		p = specpath.SpecPath(req.Slug)
	case repository.CategoryReports:
		if req.Kind == "" {
			return "", fmt.Errorf("report kind is required")
		}
		p = specpath.ReportPath(ts, req.Kind, req.Slug)
	case repository.CategoryPlans:
		if req.Kind == "" {
			return "", fmt.Errorf("plan type is required")
		}
		p = specpath.PlanPath(ts, req.Kind, req.Slug)
	case repository.CategoryState:
		p = specpath.StatePath(req.Slug)
	default:
		return "", fmt.Errorf("unknown artifact category %q", req.Category)
	}

	if res := guard.Check(p); res.Verdict == guard.Block {
		return "", fmt.Errorf("path %s is protected (%s)", p, res.Pattern)
	}
	return p, nil
}

// cleanLocator rejects locators that escape the store root
func cleanLocator(locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("empty locator")
	}
	p := path.Clean(strings.ReplaceAll(locator, `\`, "/"))
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("locator %q escapes the artifact root", locator)
	}
	return p, nil
}

func persistenceError(req repository.WriteRequest, err error) error {
	return run.ErrPersistence.
		WithMessage("failed to write %s artifact for %s", req.Category, req.Slug).
		WithDetail("category", string(req.Category)).
		Wrap(err)
}

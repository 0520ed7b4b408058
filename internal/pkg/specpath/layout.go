package specpath

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// TimestampLayout is the minute-resolution prefix of report and plan names
const TimestampLayout = "2006-01-02-1504"

// Directory names of the artifact categories
const (
	SpecsDir   = ".specs"
	ReportsDir = ".reports"
	PlansDir   = ".plans"
	StateDir   = ".state"
	ArchiveDir = ".state/archive"
)

// SpecPath returns the relative path of the request spec of slug
func SpecPath(slug string) string {
	return path.Join(SpecsDir, slug+".md")
}

// ReportPath returns .reports/{YYYY-MM-DD-HHMM}-{kind}-{slug}.md
func ReportPath(ts time.Time, kind, slug string) string {
	return path.Join(ReportsDir, timestamped(ts, kind, slug))
}

// PlanPath returns .plans/{YYYY-MM-DD-HHMM}-{type}-{slug}.md
func PlanPath(ts time.Time, workflowType, slug string) string {
	return path.Join(PlansDir, timestamped(ts, workflowType, slug))
}

// StatePath returns .state/{slug}.json
func StatePath(slug string) string {
	return path.Join(StateDir, slug+".json")
}

// LockPath returns .state/{slug}.lock
func LockPath(slug string) string {
	return path.Join(StateDir, slug+".lock")
}

// JournalPath returns .state/{slug}.journal.ndjson
func JournalPath(slug string) string {
	return path.Join(StateDir, slug+".journal.ndjson")
}

// ArchivePath returns .state/archive/{id}.json
func ArchivePath(runID string) string {
	return path.Join(ArchiveDir, runID+".json")
}

// WithSuffix inserts -n before the extension: a.md -> a-2.md
func WithSuffix(p string, n int) string {
	if n < 2 {
		return p
	}
	ext := path.Ext(p)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(p, ext), n, ext)
}

func timestamped(ts time.Time, kind, slug string) string {
	return fmt.Sprintf("%s-%s-%s.md", ts.UTC().Format(TimestampLayout), Slugify(kind), slug)
}

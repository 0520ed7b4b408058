package guard

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict is the outcome of a path check
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Block
)

// String returns the string representation of the verdict
func (v Verdict) String() string {
	switch v {
	case Warn:
		return "warn"
	case Block:
		return "block"
	default:
		return "allow"
	}
}

// Result explains a verdict
type Result struct {
	Verdict Verdict
	Pattern string
}

var blockedPatterns = compile(
	// Environment and secrets
	`(^|/)\.env$`,
	`(^|/)\.env\.[^/]+$`,
	`(^|/)secrets/`,
	`(^|/)credentials/`,
	`\.credentials`,

	// Lock files
	`package-lock\.json$`,
	`yarn\.lock$`,
	`pnpm-lock\.yaml$`,
	`Gemfile\.lock$`,
	`poetry\.lock$`,
	`Cargo\.lock$`,
	`composer\.lock$`,
	`go\.sum$`,

	// Key material
	`\.pem$`,
	`\.key$`,
	`\.crt$`,
	`\.p12$`,
	`\.pfx$`,
	`id_rsa`,
	`id_ed25519`,
	`id_ecdsa`,

	// Git internals
	`(^|/)\.git/`,
	`(^|/)\.git$`,

	// Editor configs
	`(^|/)\.idea/`,
	`\.vscode/settings\.json$`,
)

var warningPatterns = compile(
	`(^|/)\.github/workflows/`,
	`\.gitlab-ci\.yml$`,
	`Dockerfile$`,
	`docker-compose\.ya?ml$`,
	`Makefile$`,
	`webpack\.config\.`,
	`vite\.config\.`,
	`tsconfig\.json$`,
	`package\.json$`,
	`(^|/)go\.mod$`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Check classifies a path as allowed, warned or blocked
func Check(path string) Result {
	normalized := filepath.ToSlash(filepath.Clean(path))
	normalized = strings.TrimPrefix(normalized, "./")

	for _, re := range blockedPatterns {
		if re.MatchString(normalized) {
			return Result{Verdict: Block, Pattern: re.String()}
		}
	}
	for _, re := range warningPatterns {
		if re.MatchString(normalized) {
			return Result{Verdict: Warn, Pattern: re.String()}
		}
	}
	return Result{Verdict: Allow}
}

// IsBlocked reports whether writing to path is refused
func IsBlocked(path string) bool {
	return Check(path).Verdict == Block
}

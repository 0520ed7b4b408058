package specpath

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SlugPolicy controls slug generation
type SlugPolicy struct {
	MaxRunes int    // Maximum length in runes
	Fallback string // Used when nothing survives filtering
}

// DefaultSlugPolicy is used by Slugify
var DefaultSlugPolicy = SlugPolicy{MaxRunes: 60, Fallback: "run"}

// Slugify converts a free-form name into a filesystem-safe slug.
// The same input always yields the same slug.
func Slugify(name string) string {
	return SlugifyWith(name, DefaultSlugPolicy)
}

// SlugifyWith applies a custom policy
func SlugifyWith(name string, policy SlugPolicy) string {
	// NFKC folds compatibility forms (full-width digits, ligatures); NFD then
	// splits accents off so "Café" keeps its base letter
	name = norm.NFD.String(norm.NFKC.String(name))
	name = strings.ToLower(name)

	var b strings.Builder
	lastHyphen := true
	for _, r := range name {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")

	maxLen := policy.MaxRunes
	if maxLen <= 0 {
		maxLen = DefaultSlugPolicy.MaxRunes
	}
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}

	if slug == "" {
		slug = policy.Fallback
		if slug == "" {
			slug = DefaultSlugPolicy.Fallback
		}
	}

	if isWindowsReserved(slug) {
		slug += "-x"
	}
	return slug
}

// isWindowsReserved checks if a name is a Windows reserved filename
func isWindowsReserved(name string) bool {
	reserved := map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
	return reserved[name]
}

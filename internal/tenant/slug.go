// internal/tenant/slug.go
//
// Slug, subdomain, and schema-name helpers.
//
// Rules (MakeSlug)
// ----------------
// 1. Lower-case everything.
// 2. Convert any run of non-[a-z0-9] characters to one “-”.  That strips
//    spaces, punctuation, emoji, and non-ASCII.
// 3. Trim leading / trailing “-”.
// 4. Cut to max bytes, then trim a trailing “-” left by the cut.
//
// An empty result is returned as "", so each caller picks its own fallback
// (`shop-new`, `tenant-<hex>`).
//
// Schema names reuse the same rules with “_” in place of “-” and must
// start with a letter or underscore, so they are safe as bare PostgreSQL
// identifiers.

package tenant

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxSubdomain is the DNS label limit.
	MaxSubdomain = 63
	// MaxIdent is the PostgreSQL identifier limit (NAMEDATALEN-1).
	MaxIdent = 63
	// MaxSlug bounds tenant slugs.
	MaxSlug = 100
)

var schemaRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// MakeSlug converts title → lower-kebab ASCII of at most max bytes.
func MakeSlug(title string, max int) string {
	var b strings.Builder
	b.Grow(len(title))

	lastWasDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasDash = false
		default:
			if !lastWasDash {
				b.WriteRune('-')
				lastWasDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if max > 0 && len(slug) > max {
		slug = strings.TrimRight(slug[:max], "-")
	}
	return slug
}

// SchemaName joins parts into a safe identifier, e.g. ("acme-corp", "Main")
// → "acme_corp_main".  It returns "" when nothing usable remains.
func SchemaName(parts ...string) string {
	s := strings.ReplaceAll(MakeSlug(strings.Join(parts, " "), MaxIdent), "-", "_")
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "s_" + s
		if len(s) > MaxIdent {
			s = strings.TrimRight(s[:MaxIdent], "_")
		}
	}
	return s
}

// ValidSchemaName reports whether s is a safe bare identifier.
func ValidSchemaName(s string) bool { return schemaRe.MatchString(s) }

// withSuffix appends "-n" to base, cutting base so the label stays within
// MaxSubdomain.
func withSuffix(base string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	if len(base)+len(suffix) > MaxSubdomain {
		base = strings.TrimRight(base[:MaxSubdomain-len(suffix)], "-")
	}
	return base + suffix
}

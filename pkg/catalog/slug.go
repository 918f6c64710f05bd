package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 80

// Slugify turns a name into a URL path segment: lower-case ASCII letters
// and digits separated by single dashes. Accents are stripped.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(name) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			dash = true
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "-")
	}
	if s == "" {
		return "item"
	}
	return s
}

// slugOwner looks up which record, if any, holds slug.
type slugOwner func(ctx context.Context, slug string) (id string, err error)

// uniqueSlug returns base, or base-N for the smallest N >= 2 that no record
// other than selfID uses.
func uniqueSlug(ctx context.Context, base, selfID string, owner slugOwner) (string, error) {
	candidate := base
	for n := 2; n < 1000; n++ {
		id, err := owner(ctx, candidate)
		if errors.Is(err, ErrNotFound) || (err == nil && id == selfID) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("%w: no free slug for %q", ErrConflict, base)
}

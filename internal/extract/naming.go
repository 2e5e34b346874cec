package extract

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ivlev/pdf2html/internal/domain"
)

const maxNameLen = 48

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug reduces a suggested name to lowercase ASCII letters, digits and
// underscores. It returns "" when nothing usable remains.
func Slug(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	out := b.String()
	if len(out) > maxNameLen {
		out = strings.TrimRight(out[:maxNameLen], "_")
	}
	return out
}

// AssignNames gives every descriptor a unique artifact name, walking pages
// and descriptors in order. Same input, same names.
func AssignNames(regions [][]domain.RegionDescriptor) [][]string {
	used := make(map[string]bool)
	names := make([][]string, len(regions))
	for i, page := range regions {
		names[i] = make([]string, len(page))
		for j, r := range page {
			base := Slug(r.Name)
			if base == "" {
				base = fmt.Sprintf("region_p%d", r.Page)
			}
			name := base
			for k := 2; used[name]; k++ {
				name = fmt.Sprintf("%s_%d", base, k)
			}
			used[name] = true
			names[i][j] = name
		}
	}
	return names
}

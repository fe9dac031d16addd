package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	leadsDigit = regexp.MustCompile(`^[0-9]`)
)

// CleanHeaders normalizes raw headers: trim, lowercase, runs of
// non-alphanumerics collapsed to '_', leading/trailing '_' stripped, a name
// starting with a digit prefixed, and duplicates deduplicated with numeric
// suffixes. The returned mapping is normalized name -> original header.
func CleanHeaders(headers []string) ([]string, map[string]string) {
	mapping := make(map[string]string, len(headers))
	out := make([]string, 0, len(headers))
	seen := make(map[string]struct{}, len(headers))

	for i, original := range headers {
		clean := strings.ToLower(strings.TrimSpace(original))
		clean = nonAlnum.ReplaceAllString(clean, "_")
		clean = strings.Trim(clean, "_")
		if clean == "" {
			clean = fmt.Sprintf("column_%d", i+1)
		}
		if leadsDigit.MatchString(clean) {
			clean = "col_" + clean
		}

		if _, dup := seen[clean]; dup {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", clean, n)
				if _, dup := seen[candidate]; !dup {
					clean = candidate
					break
				}
			}
		}

		seen[clean] = struct{}{}
		out = append(out, clean)
		mapping[clean] = original
	}
	return out, mapping
}

package utils

import (
	"slices"
	"strings"
)

// UniqueSorted trims every element, drops empty ones and those listed in
// skip, and returns the remaining values sorted and de-duplicated.
// Useful for multi-valued columns where order carries no meaning.
func UniqueSorted(values []string, skip ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(skip, v) {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

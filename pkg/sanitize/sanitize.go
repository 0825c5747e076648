// Package sanitize converts raw CSV header names into canonical
// snake_case SQL identifiers. Every component that introduces a new
// column name goes through this package, so bronze, silver, and gold
// all agree on spelling.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	acronymRe = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	camel1Re  = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	camel2Re  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	runsRe    = regexp.MustCompile(`__+`)
)

// Column sanitizes a single raw header into a snake_case identifier.
// A leading underscore is preserved so technical columns such as
// _source_sha256 keep their prefix.
func Column(col string) string {
	c := strings.TrimSpace(col)
	keepLeading := strings.HasPrefix(c, "_")

	c = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(c)
	c = acronymRe.ReplaceAllString(c, "${1}_${2}")
	c = camel1Re.ReplaceAllString(c, "${1}_${2}")
	c = camel2Re.ReplaceAllString(c, "${1}_${2}")
	c = runsRe.ReplaceAllString(c, "_")

	c = strings.Trim(strings.ToLower(c), "_")

	if keepLeading {
		c = "_" + c
	}
	return c
}

// Columns sanitizes a header row in order.
func Columns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = Column(c)
	}
	return out
}

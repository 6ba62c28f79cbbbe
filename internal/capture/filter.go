package capture

import (
	"regexp"
	"strings"
	"unicode"
)

// Categories attached by callers that issue housekeeping queries.
const (
	CategorySchema  = "SCHEMA"
	CategoryExplain = "EXPLAIN"
)

var ignoredStatements = regexp.MustCompile(`(?i)\A(?:` + strings.Join([]string{
	`SHOW\b`,
	`EXPLAIN\b`,
	`SELECT.*FROM.*schema_migrations`,
	`(?s:SELECT.*information_schema)`,
	`SELECT\s+(?:sqlite_)?version\s*\(`,
}, "|") + `)`)

// Ignored reports whether a statement is noise that never belongs in an
// artifact. Blank statements are always ignored.
func Ignored(stmt, category string) bool {
	if category == CategorySchema || category == CategoryExplain {
		return true
	}
	stmt = strings.TrimLeftFunc(stmt, unicode.IsSpace)
	if stmt == "" {
		return true
	}
	return ignoredStatements.MatchString(stmt)
}

// Format returns the artifact text for stmt, or false when it is ignored.
func Format(stmt, category string) (string, bool) {
	if Ignored(stmt, category) {
		return "", false
	}
	stmt = strings.TrimSpace(stmt)
	if !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt + "\n\n", true
}

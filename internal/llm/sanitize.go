package llm

import (
	"regexp"
	"strings"
)

var (
	fencedBlock  = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)```")
	sqlAnchor    = regexp.MustCompile(`(?i)\b(SELECT|WITH|INSERT|UPDATE|DELETE)\b`)
	proseOpening = regexp.MustCompile(`^[A-Z][a-z]`)
)

// Words that may legally open a line inside a generated statement. A
// trailing line starting with anything else in sentence case is model
// chatter, not SQL.
var sqlLineKeywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "GROUP": {}, "ORDER": {},
	"HAVING": {}, "LIMIT": {}, "JOIN": {}, "LEFT": {}, "RIGHT": {},
	"INNER": {}, "OUTER": {}, "ON": {}, "AND": {}, "OR": {},
	"CASE": {}, "WHEN": {}, "THEN": {}, "ELSE": {}, "END": {},
	"AS": {}, "BY": {}, "WITH": {}, "UNION": {}, "CAST": {},
	"COUNT": {}, "SUM": {}, "AVG": {}, "MIN": {}, "MAX": {},
	"DISTINCT": {}, "NOT": {}, "NULL": {}, "IS": {}, "IN": {},
	"ROUND": {},
}

// CleanSQL extracts the single statement a model was asked for out of
// whatever it actually produced. The steps run in order: prefer the
// contents of a fenced block, strip stray backticks, anchor at the
// first SQL keyword, keep only the first ;-separated statement, then
// drop trailing sentence-case prose lines.
func CleanSQL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "`", ""))

	if loc := sqlAnchor.FindStringIndex(raw); loc != nil {
		raw = raw[loc[0]:]
	}

	for _, part := range strings.Split(raw, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			raw = trimmed
			break
		}
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		firstWord := ""
		if fields := strings.Fields(trimmed); len(fields) > 0 {
			firstWord = strings.ToUpper(fields[0])
		}
		if len(kept) > 0 && !isSQLLineKeyword(firstWord) && proseOpening.MatchString(trimmed) {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSQLLineKeyword(word string) bool {
	_, ok := sqlLineKeywords[word]
	return ok
}

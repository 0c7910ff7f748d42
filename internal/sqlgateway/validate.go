package sqlgateway

import (
	"fmt"
	"strings"
)

// validateReadOnly rejects any statement whose leading keyword is not
// SELECT, WITH (a CTE, which must itself terminate in a SELECT), or EXPLAIN.
// It is a conservative allowlist, not a full SQL parser: the Gateway's real
// enforcement of "no writes happen here" is that read-only requests never
// reach exec() in gateway.go, so a clever statement that smuggles a write
// past this check (e.g. via a scalar subquery side effect, which SQLite does
// not support anyway) still cannot run as anything but a query.
func validateReadOnly(stmt string) error {
	body := stripLeadingComments(stmt)
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("empty statement")
	}

	upper := strings.ToUpper(body)
	switch {
	case strings.HasPrefix(upper, "SELECT"):
	case strings.HasPrefix(upper, "WITH"):
		if !strings.Contains(upper, "SELECT") {
			return fmt.Errorf("read-only statement must contain a SELECT: %q", truncate(stmt, 80))
		}
	case strings.HasPrefix(upper, "EXPLAIN"):
	default:
		return fmt.Errorf("statement is not read-only: %q", truncate(stmt, 80))
	}

	for _, kw := range forbiddenKeywords {
		if containsWord(upper, kw) {
			return fmt.Errorf("read-only statement must not contain %s: %q", kw, truncate(stmt, 80))
		}
	}
	return nil
}

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "REPLACE",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX",
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentByte(haystack[pos-1])
		after := pos+len(word) >= len(haystack) || !isIdentByte(haystack[pos+len(word)])
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// stripLeadingComments removes leading "--" and "/* */" comments so a
// statement like "-- note\nSELECT ..." still matches the SELECT prefix.
func stripLeadingComments(stmt string) string {
	s := stmt
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return ""
		default:
			return s
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

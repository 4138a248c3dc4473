// Package sqlguard is the policy gate between SQL generation and the
// database. It is allow-list based and fails closed: anything it cannot
// confidently scan is rejected.
package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

type Limits struct {
	// MaxLength bounds the statement length in bytes.
	MaxLength int
	// MaxNestingDepth bounds parenthesis nesting.
	MaxNestingDepth int
}

const (
	DefaultMaxLength       = 4000
	DefaultMaxNestingDepth = 10
)

// RejectionError carries the internal reason a statement was refused. The
// reason is for operator logs only and must never reach the end user.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("sql rejected: %s", e.Reason)
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// deniedKeywords are matched as whole tokens outside string literals,
// quoted identifiers and comments.
var deniedKeywords = map[string]struct{}{
	"INSERT":               {},
	"UPDATE":               {},
	"DELETE":               {},
	"DROP":                 {},
	"ALTER":                {},
	"CREATE":               {},
	"TRUNCATE":             {},
	"GRANT":                {},
	"REVOKE":               {},
	"EXEC":                 {},
	"EXECUTE":              {},
	"MERGE":                {},
	"CALL":                 {},
	"COPY":                 {},
	"DO":                   {},
	"SET":                  {},
	"RESET":                {},
	"LISTEN":               {},
	"NOTIFY":               {},
	"VACUUM":               {},
	"REINDEX":              {},
	"INTO":                 {},
	"PG_SLEEP":             {},
	"PG_READ_FILE":         {},
	"PG_READ_BINARY_FILE":  {},
	"PG_TERMINATE_BACKEND": {},
	"PG_CANCEL_BACKEND":    {},
	"LO_IMPORT":            {},
	"LO_EXPORT":            {},
	"DBLINK":               {},
	"DBLINK_EXEC":          {},
	"WAITFOR":              {},
}

// Validate inspects a candidate SQL statement and returns nil when it is a
// single read-only SELECT/WITH statement within the configured bounds, or a
// *RejectionError otherwise. It is a pure function with no side effects.
func Validate(sqlText string, limits Limits) error {
	if limits.MaxLength <= 0 {
		limits.MaxLength = DefaultMaxLength
	}
	if limits.MaxNestingDepth <= 0 {
		limits.MaxNestingDepth = DefaultMaxNestingDepth
	}

	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return reject("empty statement")
	}
	if len(trimmed) > limits.MaxLength {
		return reject("statement length %d exceeds limit %d", len(trimmed), limits.MaxLength)
	}

	tokens, maxDepth, err := scan(trimmed)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return reject("no SQL tokens found")
	}
	if maxDepth > limits.MaxNestingDepth {
		return reject("nesting depth %d exceeds limit %d", maxDepth, limits.MaxNestingDepth)
	}

	first := tokens[0]
	if first != "SELECT" && first != "WITH" {
		return reject("statement must begin with SELECT or WITH, got %q", first)
	}

	for _, token := range tokens {
		if _, denied := deniedKeywords[token]; denied {
			return reject("disallowed keyword %q", token)
		}
	}
	return nil
}

// scan walks the statement once, skipping the contents of single-quoted
// strings (with '' escapes), double-quoted identifiers, dollar-quoted
// strings, line comments and block comments. It returns the uppercase word
// tokens of the remaining SQL and the maximum parenthesis depth. Scanning
// errors (unterminated constructs, trailing statements) come back as
// rejections so the gate fails closed.
func scan(input string) ([]string, int, error) {
	var tokens []string
	var word strings.Builder
	depth, maxDepth := 0, 0

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	i := 0
	for i < len(input) {
		c := input[i]

		switch {
		case c == '\'':
			flush()
			end, ok := skipSingleQuoted(input, i)
			if !ok {
				return nil, 0, reject("unterminated string literal")
			}
			i = end
			continue
		case c == '"':
			flush()
			end, ok := skipDoubleQuoted(input, i)
			if !ok {
				return nil, 0, reject("unterminated quoted identifier")
			}
			i = end
			continue
		case c == '$':
			if end, ok, isDollar := skipDollarQuoted(input, i); isDollar {
				if !ok {
					return nil, 0, reject("unterminated dollar-quoted string")
				}
				flush()
				i = end
				continue
			}
		case c == '-' && i+1 < len(input) && input[i+1] == '-':
			flush()
			i = skipLineComment(input, i)
			continue
		case c == '/' && i+1 < len(input) && input[i+1] == '*':
			flush()
			end, ok := skipBlockComment(input, i)
			if !ok {
				return nil, 0, reject("unterminated block comment")
			}
			i = end
			continue
		case c == ';':
			flush()
			if rest := strings.TrimSpace(input[i+1:]); rest != "" {
				return nil, 0, reject("multiple statements are not allowed")
			}
			i = len(input)
			continue
		case c == '(':
			flush()
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case c == ')':
			flush()
			if depth > 0 {
				depth--
			}
		case isWordChar(c):
			word.WriteByte(c)
			i++
			continue
		default:
			flush()
		}
		i++
	}
	flush()
	return tokens, maxDepth, nil
}

func isWordChar(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

func skipSingleQuoted(input string, start int) (int, bool) {
	i := start + 1
	for i < len(input) {
		if input[i] == '\'' {
			if i+1 < len(input) && input[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

func skipDoubleQuoted(input string, start int) (int, bool) {
	i := start + 1
	for i < len(input) {
		if input[i] == '"' {
			if i+1 < len(input) && input[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$. The third return
// value reports whether the input at start is a dollar-quote opener at all;
// a bare '$' (as in positional parameters) is left to the word scanner.
func skipDollarQuoted(input string, start int) (int, bool, bool) {
	i := start + 1
	for i < len(input) && (isWordChar(input[i]) && !unicode.IsDigit(rune(input[i]))) {
		i++
	}
	if i >= len(input) || input[i] != '$' {
		return 0, false, false
	}
	delim := input[start : i+1]
	end := strings.Index(input[i+1:], delim)
	if end < 0 {
		return 0, false, true
	}
	return i + 1 + end + len(delim), true, true
}

func skipLineComment(input string, start int) int {
	if idx := strings.IndexByte(input[start:], '\n'); idx >= 0 {
		return start + idx + 1
	}
	return len(input)
}

func skipBlockComment(input string, start int) (int, bool) {
	depth := 0
	i := start
	for i < len(input)-1 {
		switch {
		case input[i] == '/' && input[i+1] == '*':
			depth++
			i += 2
		case input[i] == '*' && input[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, true
			}
		default:
			i++
		}
	}
	return 0, false
}

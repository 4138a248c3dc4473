package sqlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAllowsReadOnlyStatements(t *testing.T) {
	cases := map[string]string{
		"plain select":          "SELECT name FROM employees;",
		"select without semi":   "SELECT name, designation FROM employees WHERE is_active = TRUE",
		"cte":                   "WITH active AS (SELECT id FROM employees WHERE is_active = TRUE) SELECT * FROM active",
		"exists subquery":       "SELECT e.name FROM employees e WHERE EXISTS (SELECT 1 FROM employee_skills es WHERE es.employee_id = e.id AND es.skill_name = 'Python')",
		"aggregate with having": "SELECT a.employee_id, SUM(CAST(a.percent_allocated AS INTEGER)) AS total FROM allocations a GROUP BY a.employee_id HAVING SUM(CAST(a.percent_allocated AS INTEGER)) <= 75",
		"lowercase select":      "select 1",
		"keyword in literal":    "SELECT name FROM projects WHERE name = 'Updates Ltd'",
		"keyword in identifier": `SELECT "delete_me" FROM projects`,
		"escaped quote":         "SELECT name FROM projects WHERE name = 'O''Brien''s Update'",
		"created_at column":     "SELECT created_at FROM projects ORDER BY created_at DESC",
	}
	for name, sqlText := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(sqlText, Limits{}); err != nil {
				t.Fatalf("Validate(%q) = %v, want allow", sqlText, err)
			}
		})
	}
}

func TestValidateRejectsNonReadStatements(t *testing.T) {
	cases := map[string]string{
		"drop":            "DROP TABLE employees;",
		"insert":          "INSERT INTO employees (name) VALUES ('x')",
		"update":          "UPDATE employees SET is_active = FALSE",
		"delete":          "DELETE FROM employees",
		"truncate":        "TRUNCATE employees",
		"grant":           "GRANT ALL ON employees TO public",
		"execute":         "EXECUTE plan",
		"explain-less do": "DO $$ BEGIN NULL; END $$",
		"copy":            "COPY employees TO '/tmp/out.csv'",
		"empty":           "   ",
		"comment only":    "-- nothing here",
	}
	for name, sqlText := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(sqlText, Limits{}); err == nil {
				t.Fatalf("Validate(%q) = nil, want rejection", sqlText)
			}
		})
	}
}

func TestValidateRejectsEmbeddedWriteKeywords(t *testing.T) {
	cases := map[string]string{
		"multi-statement drop":  "SELECT name FROM employees; DROP TABLE employees;",
		"union into":            "SELECT name FROM employees UNION SELECT email INTO dumped FROM users",
		"nested delete":         "SELECT * FROM (DELETE FROM employees RETURNING *) x",
		"pg_sleep":              "SELECT pg_sleep(60)",
		"pg_read_file":          "SELECT pg_read_file('/etc/passwd')",
		"dblink":                "SELECT * FROM dblink('host=evil', 'SELECT 1') AS t(a int)",
		"set in statement":      "SET statement_timeout = 0",
		"select for update-ish": "SELECT name INTO backup FROM employees",
		"keyword after comment": "SELECT 1 /* harmless */ ; DELETE FROM employees",
	}
	for name, sqlText := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(sqlText, Limits{}); err == nil {
				t.Fatalf("Validate(%q) = nil, want rejection", sqlText)
			}
		})
	}
}

func TestValidateIsTokenBasedNotSubstringBased(t *testing.T) {
	// Words merely containing a denied keyword must pass.
	allowed := []string{
		"SELECT updated_at FROM projects",
		"SELECT dropped_count FROM reports",
		"SELECT name FROM employees WHERE skill_summary LIKE '%database updates%'",
	}
	for _, sqlText := range allowed {
		if err := Validate(sqlText, Limits{}); err != nil {
			t.Fatalf("Validate(%q) = %v, want allow", sqlText, err)
		}
	}
}

func TestValidateFailsClosedOnUnterminatedConstructs(t *testing.T) {
	cases := map[string]string{
		"unterminated string":        "SELECT 'oops FROM employees",
		"unterminated identifier":    `SELECT "oops FROM employees`,
		"unterminated block comment": "SELECT 1 /* not closed",
		"unterminated dollar quote":  "SELECT $$ not closed",
	}
	for name, sqlText := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(sqlText, Limits{})
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want rejection", sqlText)
			}
			var rejection *RejectionError
			if !errors.As(err, &rejection) {
				t.Fatalf("error type = %T, want *RejectionError", err)
			}
		})
	}
}

func TestValidateEnforcesBounds(t *testing.T) {
	long := "SELECT " + strings.Repeat("x", 5000)
	if err := Validate(long, Limits{MaxLength: 4000}); err == nil {
		t.Fatal("expected length rejection")
	}

	deep := "SELECT " + strings.Repeat("(", 12) + "1" + strings.Repeat(")", 12)
	if err := Validate(deep, Limits{MaxNestingDepth: 10}); err == nil {
		t.Fatal("expected nesting depth rejection")
	}
	if err := Validate("SELECT (1)", Limits{MaxNestingDepth: 10}); err != nil {
		t.Fatalf("shallow nesting rejected: %v", err)
	}
}

func TestValidateTrailingSemicolonAllowed(t *testing.T) {
	if err := Validate("SELECT 1;", Limits{}); err != nil {
		t.Fatalf("trailing semicolon rejected: %v", err)
	}
	if err := Validate("SELECT 1; \n\t ", Limits{}); err != nil {
		t.Fatalf("semicolon followed by whitespace rejected: %v", err)
	}
}

func TestRejectionReasonNotEmpty(t *testing.T) {
	err := Validate("DROP TABLE employees", Limits{})
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error type = %T", err)
	}
	if rejection.Reason == "" {
		t.Fatal("rejection reason should be populated for operator logs")
	}
}

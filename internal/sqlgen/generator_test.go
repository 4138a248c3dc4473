package sqlgen

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/resourcewise/resourcewise/internal/llm"
	"github.com/resourcewise/resourcewise/internal/schema"
)

type scriptedStep struct {
	response llm.Response
	err      error
}

type scriptedClient struct {
	steps    []scriptedStep
	requests []llm.Request
}

func (s *scriptedClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return llm.Response{}, errors.New("no scripted step left")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.response, step.err
}

func newTestGenerator(client llm.Client) *Generator {
	return NewGenerator(client, schema.NewProvider(nil), Config{Attempts: 2}, nil)
}

func TestGenerateAcceptsReviewedStatement(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "```sql\nSELECT e.first_name, e.last_name\nFROM employees e\nWHERE e.is_active = true\n  AND EXISTS (\n    SELECT 1 FROM employee_skills s\n    WHERE s.employee_id = e.id AND s.skill_name ILIKE 'python'\n  )\n```"}},
		{response: llm.Response{Content: "OK"}},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "Find all software engineers with Python skills", map[string]string{"skill": "Python"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if strings.Contains(result.SQL, "```") {
		t.Fatalf("fences not stripped: %q", result.SQL)
	}
	if !strings.HasPrefix(result.SQL, "SELECT") {
		t.Fatalf("unexpected SQL: %q", result.SQL)
	}
	if result.QueryType != "select" {
		t.Fatalf("unexpected query type %q", result.QueryType)
	}
	if !reflect.DeepEqual(result.Tables, []string{"employee_skills", "employees"}) {
		t.Fatalf("unexpected tables %v", result.Tables)
	}

	if len(client.requests) != 2 {
		t.Fatalf("expected generate + review calls, got %d", len(client.requests))
	}
	if !strings.Contains(client.requests[0].Messages[1].Content, "skill: Python") {
		t.Fatalf("extracted parameters missing from prompt:\n%s", client.requests[0].Messages[1].Content)
	}
}

func TestGeneratePromptListsFullStatusEnums(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "SELECT name FROM projects WHERE status = 'cancelled'"}},
		{response: llm.Response{Content: "OK"}},
	}}
	generator := newTestGenerator(client)

	if _, err := generator.Generate(context.Background(), "cancelled projects", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	system := client.requests[0].Messages[0].Content
	for _, status := range []string{"'planning'", "'on_hold'", "'cancelled'"} {
		if !strings.Contains(system, status) {
			t.Fatalf("system prompt missing status value %s:\n%s", status, system)
		}
	}
}

func TestGenerateReturnsClarification(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "CLARIFY: Which project do you mean?"}},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "how is it staffed?", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Clarification != "Which project do you mean?" {
		t.Fatalf("unexpected clarification %q", result.Clarification)
	}
	if result.SQL != "" {
		t.Fatalf("declined generation should carry no SQL, got %q", result.SQL)
	}
	if len(client.requests) != 1 {
		t.Fatalf("declined generation should not be reviewed, got %d calls", len(client.requests))
	}
}

func TestGenerateRetriesWhenUsersTableIsReferenced(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "SELECT email FROM users"}},
		{response: llm.Response{Content: "SELECT work_email FROM employees WHERE is_active = true"}},
		{response: llm.Response{Content: "OK"}},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "list everyone's email", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(strings.ToLower(result.SQL), "users") {
		t.Fatalf("users reference survived: %q", result.SQL)
	}

	retryPrompt := client.requests[1].Messages[1].Content
	if !strings.Contains(retryPrompt, "rejected") || !strings.Contains(retryPrompt, "users table") {
		t.Fatalf("retry prompt should carry the concrete issue:\n%s", retryPrompt)
	}
}

func TestGenerateRetriesOnRepeatingSkillJoin(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "SELECT e.first_name FROM employees e JOIN employee_skills s ON s.employee_id = e.id WHERE s.skill_name ILIKE 'go'"}},
		{response: llm.Response{Content: "SELECT DISTINCT e.first_name FROM employees e JOIN employee_skills s ON s.employee_id = e.id WHERE s.skill_name ILIKE 'go'"}},
		{response: llm.Response{Content: "OK"}},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "who knows Go?", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(result.SQL, "DISTINCT") {
		t.Fatalf("expected corrected statement, got %q", result.SQL)
	}
}

func TestGenerateUsesReviewedCorrection(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "SELECT SUM(percent_allocated) FROM allocations WHERE status = 'active'"}},
		{response: llm.Response{Content: "SELECT SUM(CAST(percent_allocated AS INTEGER)) FROM allocations WHERE status = 'active'"}},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "total active allocation", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(result.SQL, "CAST(percent_allocated AS INTEGER)") {
		t.Fatalf("review correction not applied: %q", result.SQL)
	}
	if result.QueryType != "aggregate" {
		t.Fatalf("unexpected query type %q", result.QueryType)
	}
}

func TestGenerateKeepsCandidateWhenReviewFails(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "SELECT name FROM projects WHERE status = 'active'"}},
		{err: errors.New("upstream 503")},
	}}
	generator := newTestGenerator(client)

	result, err := generator.Generate(context.Background(), "active projects", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.SQL != "SELECT name FROM projects WHERE status = 'active'" {
		t.Fatalf("expected original candidate, got %q", result.SQL)
	}
}

func TestGenerateFailsAfterExhaustedAttempts(t *testing.T) {
	client := &scriptedClient{steps: []scriptedStep{
		{response: llm.Response{Content: "DELETE FROM employees"}},
		{response: llm.Response{Content: "DROP TABLE employees"}},
	}}
	generator := newTestGenerator(client)

	_, err := generator.Generate(context.Background(), "remove everyone", nil)
	if err == nil {
		t.Fatal("expected failure after exhausted attempts")
	}
	if !strings.Contains(err.Error(), "SELECT or WITH") {
		t.Fatalf("error should carry the last issue: %v", err)
	}
}

func TestStaticIssue(t *testing.T) {
	cases := map[string]struct {
		sql     string
		wantHit bool
	}{
		"plain select":          {"SELECT 1", false},
		"cte":                   {"WITH t AS (SELECT 1) SELECT * FROM t", false},
		"empty":                 {"", true},
		"write statement":       {"UPDATE employees SET is_active = false", true},
		"users reference":       {"SELECT * FROM users", true},
		"skill join bare":       {"SELECT e.id FROM employees e JOIN employee_skills s ON s.employee_id = e.id", true},
		"skill join distinct":   {"SELECT DISTINCT e.id FROM employees e JOIN employee_skills s ON s.employee_id = e.id", false},
		"skill join grouped":    {"SELECT e.id FROM employees e JOIN employee_skills s ON s.employee_id = e.id GROUP BY e.id", false},
		"skill exists subquery": {"SELECT e.id FROM employees e WHERE EXISTS (SELECT 1 FROM employee_skills s WHERE s.employee_id = e.id)", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			issue := staticIssue(tc.sql)
			if tc.wantHit && issue == "" {
				t.Fatalf("expected issue for %q", tc.sql)
			}
			if !tc.wantHit && issue != "" {
				t.Fatalf("unexpected issue %q for %q", issue, tc.sql)
			}
		})
	}
}

func TestStripMarkdownSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                          "SELECT 1",
		"```sql\nSELECT 1\n```":             "SELECT 1",
		"```\nSELECT 1\n```":                "SELECT 1",
		"SQL: SELECT 1":                     "SELECT 1",
		"  ```sql\nSELECT 1;\n```  ":        "SELECT 1;",
		"```sql\nSELECT *\nFROM books\n```": "SELECT *\nFROM books",
	}
	for input, want := range cases {
		if got := stripMarkdownSQL(input); got != want {
			t.Fatalf("stripMarkdownSQL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestReferencedTables(t *testing.T) {
	sql := "SELECT e.id FROM employees e JOIN allocations a ON a.employee_id = e.id JOIN projects p ON p.id = a.project_id WHERE EXISTS (SELECT 1 FROM employee_skills s WHERE s.employee_id = e.id)"
	got := referencedTables(sql)
	want := []string{"allocations", "employee_skills", "employees", "projects"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("referencedTables = %v, want %v", got, want)
	}
}

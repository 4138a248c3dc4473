// Package sqlgen turns classified questions into candidate SELECT
// statements. The model proposes, a static check and a review pass
// dispose; nothing leaves this package that obviously breaks the
// querying rules.
package sqlgen

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/resourcewise/resourcewise/internal/llm"
	"github.com/resourcewise/resourcewise/internal/schema"
)

// Generated is one accepted candidate. When the model cannot answer from
// the schema it declines instead, and Clarification carries the question
// to send back to the user.
type Generated struct {
	SQL           string
	QueryType     string
	Tables        []string
	Clarification string
}

type Config struct {
	Attempts    int
	Temperature float64
}

type Generator struct {
	client      llm.Client
	schema      *schema.Provider
	attempts    int
	temperature float64
	logger      *slog.Logger
}

func NewGenerator(client llm.Client, provider *schema.Provider, cfg Config, logger *slog.Logger) *Generator {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:      client,
		schema:      provider,
		attempts:    cfg.Attempts,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

const generateSystemPrompt = `You write PostgreSQL SELECT statements for a resource allocation database.

Rules:
- Produce exactly one SELECT (or WITH ... SELECT) statement. Never write data.
- Prefer EXISTS subqueries over JOIN when checking that related rows exist. If you must JOIN a one-to-many table such as employee_skills, add DISTINCT or GROUP BY so people are not repeated.
- percent_allocated is stored as an enum of text values ('25', '50', '75', '100'). CAST it AS INTEGER before SUM, AVG, or comparisons.
- Status columns hold lower-case values: projects.status in ('planning', 'active', 'on_hold', 'completed', 'cancelled'), allocations.status in ('active', 'completed', 'cancelled').
- Filter employees on is_active = true unless the question asks about former staff.
- Never reference the users table. It holds login credentials only.
- Match names and skills case-insensitively with ILIKE.
- Do not add LIMIT unless the question asks for a specific number.

If the question cannot be answered from the schema, respond with one line
starting with CLARIFY: followed by a short question for the user.
Otherwise respond with the SQL statement only.`

// Generate asks the model for SQL and retries once with the concrete
// issue when a candidate fails the static check.
func (g *Generator) Generate(ctx context.Context, question string, parameters map[string]string) (Generated, error) {
	schemaText := g.schema.Render()

	var lastIssue string
	for attempt := 0; attempt < g.attempts; attempt++ {
		content, err := g.propose(ctx, question, parameters, schemaText, lastIssue)
		if err != nil {
			return Generated{}, fmt.Errorf("generate sql: %w", err)
		}

		if clarification, declined := parseClarification(content); declined {
			return Generated{Clarification: clarification}, nil
		}

		sqlText := stripMarkdownSQL(content)
		if issue := staticIssue(sqlText); issue != "" {
			g.logger.Debug("rejecting sql candidate",
				slog.String("issue", issue),
				slog.Int("attempt", attempt+1),
			)
			lastIssue = issue
			continue
		}

		sqlText = g.review(ctx, question, schemaText, sqlText)
		if issue := staticIssue(sqlText); issue != "" {
			lastIssue = issue
			continue
		}

		return Generated{
			SQL:       sqlText,
			QueryType: classifyQueryType(sqlText),
			Tables:    referencedTables(sqlText),
		}, nil
	}

	return Generated{}, fmt.Errorf("no acceptable query after %d attempts: %s", g.attempts, lastIssue)
}

func (g *Generator) propose(ctx context.Context, question string, parameters map[string]string, schemaText, lastIssue string) (string, error) {
	var user strings.Builder
	user.WriteString("Question: ")
	user.WriteString(question)
	if len(parameters) > 0 {
		user.WriteString("\nExtracted details:")
		keys := make([]string, 0, len(parameters))
		for key := range parameters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&user, "\n- %s: %s", key, parameters[key])
		}
	}
	if lastIssue != "" {
		fmt.Fprintf(&user, "\n\nYour previous attempt was rejected: %s. Produce a corrected statement.", lastIssue)
	}

	response, err := g.client.Complete(ctx, llm.Request{
		Purpose:     "generate",
		Temperature: g.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: generateSystemPrompt + "\n\nSchema:\n" + schemaText},
			{Role: llm.RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

const reviewSystemPrompt = `You review a PostgreSQL statement written to answer a question.
Check that it answers the question, casts percent_allocated to INTEGER in
arithmetic, uses lower-case status values, and does not repeat people
through one-to-many joins. Respond with the single word OK if the
statement is correct, otherwise respond with the corrected statement only.`

// review gives the model one chance to fix its own statement. Review
// failures keep the original candidate: the static check has already
// passed it.
func (g *Generator) review(ctx context.Context, question, schemaText, sqlText string) string {
	response, err := g.client.Complete(ctx, llm.Request{
		Purpose:     "review",
		Temperature: 0.1,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: reviewSystemPrompt + "\n\nSchema:\n" + schemaText},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nStatement:\n%s", question, sqlText)},
		},
	})
	if err != nil {
		g.logger.Warn("sql review pass failed, keeping candidate",
			slog.String("error", err.Error()),
		)
		return sqlText
	}

	verdict := strings.TrimSpace(response.Content)
	if strings.EqualFold(verdict, "ok") || strings.EqualFold(verdict, "ok.") {
		return sqlText
	}

	corrected := stripMarkdownSQL(verdict)
	if corrected == "" {
		return sqlText
	}
	return corrected
}

func parseClarification(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	const marker = "CLARIFY:"
	if !strings.HasPrefix(strings.ToUpper(trimmed), marker) {
		return "", false
	}
	clarification := strings.TrimSpace(trimmed[len(marker):])
	if clarification == "" {
		clarification = "Could you add more detail to the question?"
	}
	return clarification, true
}

var fencePattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

func stripMarkdownSQL(content string) string {
	trimmed := strings.TrimSpace(content)
	if match := fencePattern.FindStringSubmatch(trimmed); match != nil {
		trimmed = strings.TrimSpace(match[1])
	}
	trimmed = strings.TrimPrefix(trimmed, "SQL:")
	return strings.TrimSpace(trimmed)
}

var (
	usersTablePattern = regexp.MustCompile(`(?i)\b(?:from|join|update|into)\s+users\b`)
	skillJoinPattern  = regexp.MustCompile(`(?i)\bjoin\s+employee_skills\b`)
	tablePattern      = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-z_][a-z0-9_]*)`)
	aggregatePattern  = regexp.MustCompile(`(?i)\b(?:count|sum|avg|min|max)\s*\(`)
)

// staticIssue is the mechanical gate for candidates. It returns an empty
// string for acceptable SQL and otherwise a description the model can
// act on in the retry.
func staticIssue(sqlText string) string {
	if sqlText == "" {
		return "the response contained no SQL"
	}

	first := strings.ToUpper(firstWord(sqlText))
	if first != "SELECT" && first != "WITH" {
		return "the statement must start with SELECT or WITH"
	}

	if usersTablePattern.MatchString(sqlText) {
		return "the users table must not be referenced"
	}

	if skillJoinPattern.MatchString(sqlText) {
		upper := strings.ToUpper(sqlText)
		if !strings.Contains(upper, "DISTINCT") && !strings.Contains(upper, "GROUP BY") {
			return "joining employee_skills without DISTINCT or GROUP BY repeats people"
		}
	}

	return ""
}

func firstWord(sqlText string) string {
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func classifyQueryType(sqlText string) string {
	upper := strings.ToUpper(sqlText)
	if aggregatePattern.MatchString(sqlText) || strings.Contains(upper, "GROUP BY") {
		return "aggregate"
	}
	return "select"
}

func referencedTables(sqlText string) []string {
	matches := tablePattern.FindAllStringSubmatch(sqlText, -1)
	seen := map[string]bool{}
	tables := make([]string, 0, len(matches))
	for _, match := range matches {
		table := strings.ToLower(match[1])
		if table == "select" || seen[table] {
			continue
		}
		seen[table] = true
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Package schema supplies the structured description of the allocatable
// data domain that grounds SQL generation. The built-in description is the
// source of truth for table layout; Refresh overlays live column metadata
// from information_schema when a database handle is available.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

type Column struct {
	Name        string
	Type        string
	Constraints []string
}

type Relationship struct {
	Column     string
	References string
}

type Table struct {
	Name          string
	Columns       []Column
	Relationships []Relationship
	Notes         []string
}

// Provider holds the schema context. Safe for concurrent use.
type Provider struct {
	mu     sync.RWMutex
	tables []Table
	db     *sql.DB
}

func NewProvider(db *sql.DB) *Provider {
	return &Provider{
		tables: defaultTables(),
		db:     db,
	}
}

func (p *Provider) Tables() []Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Table, len(p.tables))
	copy(out, p.tables)
	return out
}

func (p *Provider) TableNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.tables))
	for _, table := range p.tables {
		names = append(names, table.Name)
	}
	return names
}

// Render produces the schema grounding text included in generation prompts.
func (p *Provider) Render() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	parts := make([]string, 0, len(p.tables))
	for _, table := range p.tables {
		var b strings.Builder
		fmt.Fprintf(&b, "Table: %s\nColumns:", table.Name)
		for _, col := range table.Columns {
			fmt.Fprintf(&b, "\n    %s (%s)", col.Name, col.Type)
			if len(col.Constraints) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(col.Constraints, ", "))
			}
		}
		if len(table.Relationships) > 0 {
			b.WriteString("\nRelationships:")
			for _, rel := range table.Relationships {
				fmt.Fprintf(&b, "\n    %s -> %s", rel.Column, rel.References)
			}
		}
		if len(table.Notes) > 0 {
			b.WriteString("\nNotes:")
			for _, note := range table.Notes {
				fmt.Fprintf(&b, "\n    %s", note)
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

// Refresh re-reads column names and types from information_schema and
// overlays them on the built-in description. Tables absent from the live
// database keep their built-in definition.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("schema refresh requires a database handle")
	}

	query := `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = ANY($1)
ORDER BY table_name, ordinal_position`

	names := p.TableNames()
	rows, err := p.db.QueryContext(ctx, query, "{"+strings.Join(names, ",")+"}")
	if err != nil {
		return fmt.Errorf("query information_schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	live := map[string][]Column{}
	for rows.Next() {
		var tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return fmt.Errorf("scan information_schema row: %w", err)
		}
		col := Column{Name: columnName, Type: strings.ToUpper(dataType)}
		if strings.EqualFold(nullable, "NO") {
			col.Constraints = append(col.Constraints, "not null")
		}
		live[tableName] = append(live[tableName], col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate information_schema rows: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.tables {
		if cols, ok := live[p.tables[i].Name]; ok && len(cols) > 0 {
			p.tables[i].Columns = mergeConstraints(p.tables[i].Columns, cols)
		}
	}
	return nil
}

// mergeConstraints keeps curated constraint annotations (primary key,
// foreign key, enum values) for columns that survive the refresh.
func mergeConstraints(curated, live []Column) []Column {
	byName := map[string]Column{}
	for _, col := range curated {
		byName[col.Name] = col
	}
	merged := make([]Column, 0, len(live))
	for _, col := range live {
		if prev, ok := byName[col.Name]; ok {
			keep := prev.Constraints
			for _, c := range col.Constraints {
				if !contains(keep, c) {
					keep = append(keep, c)
				}
			}
			merged = append(merged, Column{Name: col.Name, Type: prev.Type, Constraints: keep})
			continue
		}
		merged = append(merged, col)
	}
	return merged
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func defaultTables() []Table {
	return []Table{
		{
			Name: "employees",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "name", Type: "VARCHAR", Constraints: []string{"not null"}},
				{Name: "email", Type: "VARCHAR", Constraints: []string{"not null", "unique"}},
				{Name: "designation_id", Type: "UUID", Constraints: []string{"foreign key -> designations.id"}},
				{Name: "capacity_percent", Type: "INTEGER", Constraints: []string{"not null", "range 0-100"}},
				{Name: "onboarded_at", Type: "DATE"},
				{Name: "is_active", Type: "BOOLEAN", Constraints: []string{"not null"}},
				{Name: "created_at", Type: "TIMESTAMP", Constraints: []string{"not null"}},
			},
			Relationships: []Relationship{
				{Column: "designation_id", References: "designations.id"},
			},
			Notes: []string{
				"capacity_percent is the fraction of a full-time equivalent (part-time staff < 100).",
				"Always filter e.is_active = TRUE when listing current staff.",
			},
		},
		{
			Name: "designations",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "code", Type: "VARCHAR", Constraints: []string{"not null", "unique"}},
				{Name: "title", Type: "VARCHAR", Constraints: []string{"not null"}},
			},
			Notes: []string{
				"code holds short forms like 'SSE', 'TL'; title holds full titles like 'Senior Software Engineer'.",
			},
		},
		{
			Name: "employee_skills",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "employee_id", Type: "UUID", Constraints: []string{"not null", "foreign key -> employees.id"}},
				{Name: "skill_name", Type: "VARCHAR", Constraints: []string{"not null"}},
				{Name: "summary", Type: "TEXT"},
				{Name: "experience_months", Type: "INTEGER"},
				{Name: "last_used", Type: "DATE"},
				{Name: "source", Type: "ENUM(PAT, manual, seed, self_assessment, manager_assessment)"},
			},
			Relationships: []Relationship{
				{Column: "employee_id", References: "employees.id"},
			},
			Notes: []string{
				"Many rows per employee. Skill names are free text and not canonical ('React' and 'ReactJS' may coexist).",
				"Joining this table multiplies employee rows; use EXISTS or SELECT DISTINCT.",
			},
		},
		{
			Name: "employee_embeddings",
			Columns: []Column{
				{Name: "employee_id", Type: "UUID", Constraints: []string{"not null", "foreign key -> employees.id"}},
				{Name: "source", Type: "ENUM(PAT, manual, seed, self_assessment, manager_assessment)", Constraints: []string{"not null"}},
				{Name: "embedding", Type: "VECTOR", Constraints: []string{"not null"}},
				{Name: "summary_text", Type: "TEXT"},
			},
			Relationships: []Relationship{
				{Column: "employee_id", References: "employees.id"},
			},
			Notes: []string{
				"At most one row per (employee_id, source) pair.",
			},
		},
		{
			Name: "projects",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "name", Type: "VARCHAR", Constraints: []string{"not null"}},
				{Name: "description", Type: "TEXT"},
				{Name: "duration_months", Type: "INTEGER"},
				{Name: "tech_stack", Type: "VARCHAR[]"},
				{Name: "project_type", Type: "ENUM(customer, internal)", Constraints: []string{"not null"}},
				{Name: "status", Type: "ENUM(planning, active, on_hold, completed, cancelled)", Constraints: []string{"not null"}},
				{Name: "created_at", Type: "TIMESTAMP", Constraints: []string{"not null"}},
			},
			Notes: []string{
				"status and project_type values are stored lower-case.",
			},
		},
		{
			Name: "allocations",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "project_id", Type: "UUID", Constraints: []string{"not null", "foreign key -> projects.id"}},
				{Name: "employee_id", Type: "UUID", Constraints: []string{"not null", "foreign key -> employees.id"}},
				{Name: "percent_allocated", Type: "ENUM(25, 50, 75, 100)", Constraints: []string{"not null"}},
				{Name: "start_date", Type: "DATE", Constraints: []string{"not null"}},
				{Name: "end_date", Type: "DATE"},
				{Name: "status", Type: "ENUM(active, completed, cancelled)", Constraints: []string{"not null"}},
			},
			Relationships: []Relationship{
				{Column: "project_id", References: "projects.id"},
				{Column: "employee_id", References: "employees.id"},
			},
			Notes: []string{
				"percent_allocated must be cast to INTEGER before SUM: SUM(CAST(a.percent_allocated AS INTEGER)).",
				"Overlapping allocations above 100% are a reporting signal, not a write-time constraint.",
			},
		},
		{
			Name: "users",
			Columns: []Column{
				{Name: "id", Type: "UUID", Constraints: []string{"primary key"}},
				{Name: "email", Type: "VARCHAR", Constraints: []string{"not null", "unique"}},
				{Name: "hashed_password", Type: "VARCHAR", Constraints: []string{"not null"}},
			},
			Notes: []string{
				"Application authentication only. Never query this table for person or employee information.",
			},
		},
	}
}

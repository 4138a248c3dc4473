package dbexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/resourcewise/resourcewise/internal/observability"
)

type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureSyntax     FailureKind = "syntax"
	FailureExecution  FailureKind = "execution"
)

// ExecError carries the failure classification alongside the driver error.
// The driver error goes to logs; UserMessage is the only text shown to users.
type ExecError struct {
	Kind FailureKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("query %s failure: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func (e *ExecError) UserMessage() string {
	switch e.Kind {
	case FailureTimeout:
		return "The query took too long to run. Try narrowing the request."
	case FailureConnection:
		return "The database is temporarily unavailable. Please try again shortly."
	case FailureSyntax:
		return "The generated query was not accepted by the database. Try rephrasing the request."
	default:
		return "The query could not be completed. Try rephrasing the request."
	}
}

// Result carries the materialised rows plus the true row count, which can
// exceed len(Rows) when the row cap stopped collection early.
type Result struct {
	Columns   []string
	Rows      [][]any
	TotalRows int
	Duration  time.Duration
}

type Options struct {
	QueryTimeout time.Duration
	MaxRows      int
}

type Executor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
	logger  *slog.Logger
}

func NewExecutor(db *sql.DB, opts Options, logger *slog.Logger) *Executor {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:      db,
		timeout: opts.QueryTimeout,
		maxRows: opts.MaxRows,
		logger:  logger,
	}
}

// Execute runs a validated read-only statement under the configured deadline
// and row cap. A connection failure is retried once; every other failure is
// returned as-is so the caller does not re-run statements against a database
// that already rejected them.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return Result{}, &ExecError{Kind: FailureExecution, Err: errors.New("sql is required")}
	}

	start := time.Now()
	result, err := e.runOnce(ctx, sqlText)
	if err != nil {
		var execErr *ExecError
		if errors.As(err, &execErr) && execErr.Kind == FailureConnection && ctx.Err() == nil {
			e.logger.Warn("retrying query after connection failure",
				slog.String("error", execErr.Err.Error()),
			)
			result, err = e.runOnce(ctx, sqlText)
		}
	}
	if err != nil {
		var execErr *ExecError
		if !errors.As(err, &execErr) {
			err = &ExecError{Kind: FailureExecution, Err: err}
			execErr = err.(*ExecError)
		}
		observability.IncrementSQLFailure(string(execErr.Kind))
		return Result{}, err
	}

	result.Duration = time.Since(start)
	observability.ObserveSQLExecution(result.Duration)
	return result, nil
}

func (e *Executor) runOnce(parent context.Context, sqlText string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, &ExecError{Kind: classifyError(ctx, err), Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &ExecError{Kind: classifyError(ctx, err), Err: fmt.Errorf("query columns: %w", err)}
	}

	collected := make([][]any, 0)
	total := 0
	for rows.Next() {
		total++
		if total > e.maxRows {
			// Keep counting so the caller can report the true row count,
			// but stop materialising values.
			continue
		}

		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, &ExecError{Kind: classifyError(ctx, err), Err: fmt.Errorf("scan row: %w", err)}
		}
		collected = append(collected, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, &ExecError{Kind: classifyError(ctx, err), Err: fmt.Errorf("iterate rows: %w", err)}
	}

	return Result{
		Columns:   columns,
		Rows:      collected,
		TotalRows: total,
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func classifyError(ctx context.Context, err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FailureTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled, statement_timeout fired server side
			return FailureTimeout
		case strings.HasPrefix(pgErr.Code, "42"):
			return FailureSyntax
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
			return FailureConnection
		}
		return FailureExecution
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return FailureConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureConnection
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "timeout"), strings.Contains(message, "timed out"):
		return FailureTimeout
	case strings.Contains(message, "connection"):
		return FailureConnection
	case strings.Contains(message, "syntax"):
		return FailureSyntax
	}
	return FailureExecution
}

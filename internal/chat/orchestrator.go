// Package chat runs a complete conversational turn: classify the message,
// generate and validate SQL when it is a data question, execute, format,
// and stream the outcome. This is the only place raw pipeline errors are
// converted into user-facing text.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/resourcewise/resourcewise/internal/dbexec"
	"github.com/resourcewise/resourcewise/internal/format"
	"github.com/resourcewise/resourcewise/internal/intent"
	"github.com/resourcewise/resourcewise/internal/observability"
	"github.com/resourcewise/resourcewise/internal/sqlgen"
	"github.com/resourcewise/resourcewise/internal/sqlguard"
)

type Classifier interface {
	Classify(ctx context.Context, message string, history []intent.Exchange) (intent.Classification, error)
}

type Generator interface {
	Generate(ctx context.Context, question string, parameters map[string]string) (sqlgen.Generated, error)
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) (dbexec.Result, error)
}

type Dependencies struct {
	Classifier Classifier
	Generator  Generator
	Executor   Executor
	Sessions   *SessionStore
	Guard      sqlguard.Limits
	Format     format.Options
	Logger     *slog.Logger
}

type Orchestrator struct {
	classifier Classifier
	generator  Generator
	executor   Executor
	sessions   *SessionStore
	guard      sqlguard.Limits
	format     format.Options
	logger     *slog.Logger
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionStore(0)
	}
	return &Orchestrator{
		classifier: deps.Classifier,
		generator:  deps.Generator,
		executor:   deps.Executor,
		sessions:   sessions,
		guard:      deps.Guard,
		format:     deps.Format,
		logger:     logger,
	}
}

// Answer is the non-streaming result of one turn.
type Answer struct {
	SessionID string
	Reply     string
	Category  intent.Category
	Failed    bool
}

const (
	generationFailureReply = "I couldn't turn that into a database query. Try rephrasing the request."
	rejectionReply         = "That request can't be run against the database."
	executionFailureReply  = "The query could not be completed. Try rephrasing the request."
	formattingFailureReply = "The results could not be displayed. Try rephrasing the request."
)

// Ask runs one turn and returns the whole reply at once.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, message string) Answer {
	start := time.Now()
	sessionID = o.sessions.Ensure(sessionID)

	result := o.turn(ctx, sessionID, message)

	answer := Answer{SessionID: sessionID, Category: result.category}
	if result.failure != "" {
		answer.Reply = result.failure
		answer.Failed = true
	} else {
		answer.Reply = result.reply
		o.sessions.Append(sessionID, intent.Exchange{Question: message, Answer: result.reply})
	}
	observability.ObserveChatTurn(string(result.category), time.Since(start))
	return answer
}

// Respond runs one turn and emits stream events through emit. Direct
// replies arrive as incremental tokens, formatted result sets as a single
// content event. A failed emit means the client went away; the turn stops
// there and nothing is recorded in the session history.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, message string, emit func(Event) error) error {
	start := time.Now()
	sessionID = o.sessions.Ensure(sessionID)

	if err := emit(Event{Type: EventStart, SessionID: sessionID}); err != nil {
		observability.IncrementStreamDisconnect()
		return err
	}

	result := o.turn(ctx, sessionID, message)

	if result.failure != "" {
		// An error event is terminal: no done follows it.
		if err := emit(Event{Type: EventError, Data: result.failure, SessionID: sessionID}); err != nil {
			observability.IncrementStreamDisconnect()
			return err
		}
		observability.ObserveChatTurn(string(result.category), time.Since(start))
		return nil
	}

	var streamErr error
	if result.tabular {
		streamErr = emit(Event{Type: EventContent, Data: result.reply, SessionID: sessionID})
	} else {
		streamErr = o.streamTokens(ctx, sessionID, result.reply, emit)
	}
	if streamErr == nil {
		streamErr = emit(Event{Type: EventDone, Data: result.reply, SessionID: sessionID})
	}
	if streamErr != nil {
		observability.IncrementStreamDisconnect()
		return streamErr
	}

	o.sessions.Append(sessionID, intent.Exchange{Question: message, Answer: result.reply})
	observability.ObserveChatTurn(string(result.category), time.Since(start))
	return nil
}

func (o *Orchestrator) streamTokens(ctx context.Context, sessionID, reply string, emit func(Event) error) error {
	for _, token := range strings.SplitAfter(reply, " ") {
		if token == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(Event{Type: EventToken, Data: token, SessionID: sessionID}); err != nil {
			return err
		}
	}
	return nil
}

type turnResult struct {
	reply    string
	failure  string
	tabular  bool
	category intent.Category
}

func (o *Orchestrator) turn(ctx context.Context, sessionID, message string) turnResult {
	history := o.sessions.History(sessionID)
	logger := observability.TurnLogger(o.logger, sessionID)

	classification, err := o.classifier.Classify(ctx, message, history)
	if err != nil {
		// The classifier already substituted a canned reply; the cause
		// only matters for operators.
		logger.Warn("classification degraded",
			slog.String("error", err.Error()),
		)
	}
	if classification.Direct {
		return turnResult{reply: classification.Reply, category: classification.Category}
	}

	generated, err := o.generator.Generate(ctx, classification.Question, classification.Parameters)
	if err != nil {
		logger.Error("sql generation failed",
			slog.String("category", string(classification.Category)),
			slog.String("error", err.Error()),
		)
		return turnResult{failure: generationFailureReply, category: classification.Category}
	}
	if generated.Clarification != "" {
		return turnResult{reply: generated.Clarification, category: classification.Category}
	}

	if err := sqlguard.Validate(generated.SQL, o.guard); err != nil {
		observability.IncrementSQLRejected()
		logger.Warn("generated sql rejected",
			slog.String("sql", generated.SQL),
			slog.String("error", err.Error()),
		)
		return turnResult{failure: rejectionReply, category: classification.Category}
	}

	result, err := o.executor.Execute(ctx, generated.SQL)
	if err != nil {
		userMessage := executionFailureReply
		var execErr *dbexec.ExecError
		if errors.As(err, &execErr) {
			userMessage = execErr.UserMessage()
		}
		logger.Error("query execution failed",
			slog.String("sql", generated.SQL),
			slog.String("error", err.Error()),
		)
		return turnResult{failure: userMessage, category: classification.Category}
	}

	text, err := format.Render(format.Input{
		Columns:   result.Columns,
		Rows:      result.Rows,
		TotalRows: result.TotalRows,
	}, o.format)
	if err != nil {
		logger.Error("result formatting failed",
			slog.String("error", err.Error()),
		)
		return turnResult{failure: formattingFailureReply, category: classification.Category}
	}

	return turnResult{reply: text, tabular: true, category: classification.Category}
}

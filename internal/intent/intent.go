// Package intent decides what a chat message is asking for before any SQL
// is generated. Cheap deterministic checks run first; only messages that
// look like data questions reach the language model.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/resourcewise/resourcewise/internal/llm"
)

type Category string

const (
	CategoryEmployeeSearch Category = "employee_search"
	CategoryAvailability   Category = "resource_availability"
	CategoryAllocation     Category = "allocation_query"
	CategoryProjectStatus  Category = "project_status"
	CategorySkillSearch    Category = "skill_search"
	CategoryGeneral        Category = "general_conversation"
)

var dataCategories = map[Category]string{
	CategoryEmployeeSearch: "finding people by name, role, designation, or team",
	CategoryAvailability:   "who has free capacity or is fully allocated",
	CategoryAllocation:     "how project assignments and allocation percentages are distributed",
	CategoryProjectStatus:  "project details, timelines, and status",
	CategorySkillSearch:    "finding people who have particular skills",
}

// ErrUnavailable reports that the model could not be reached at all, as
// opposed to a confident "this is small talk" classification.
var ErrUnavailable = errors.New("intent classification unavailable")

// Exchange is one completed question/answer turn kept as session history.
type Exchange struct {
	Question string
	Answer   string
}

// Classification is the routing decision for one message. When Direct is
// set, Reply is the full answer and no SQL pipeline runs. Otherwise
// Question holds the standalone form of the request, with follow-up
// references already resolved against the session history.
type Classification struct {
	Category   Category
	Confidence float64
	Parameters map[string]string
	Question   string
	Direct     bool
	Reply      string
}

type Config struct {
	ConfidenceThreshold float64
	Temperature         float64
}

type Classifier struct {
	client      llm.Client
	threshold   float64
	temperature float64
	logger      *slog.Logger
}

func NewClassifier(client llm.Client, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	return &Classifier{
		client:      client,
		threshold:   cfg.ConfidenceThreshold,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

var (
	greetingPattern = regexp.MustCompile(`^(hi|hiya|hello|hey|howdy|good (morning|afternoon|evening))[\s!.,]*$`)
	thanksPattern   = regexp.MustCompile(`\b(thanks|thank you|thx|cheers)\b`)
	helpPattern     = regexp.MustCompile(`^(help|what can you do|what do you do|how does this work)[\s?!.]*$`)
)

const (
	greetingReply = "Hello! I can help you find people, check who has free capacity, and look into project allocations. What would you like to know?"
	thanksReply   = "You're welcome! Let me know if there is anything else you would like to look up."
	helpReply     = "I answer questions about the resource pool. For example:\n" +
		"- Find all software engineers with Python skills\n" +
		"- Who is available for a new project next month?\n" +
		"- How are people allocated across the Apollo project?\n" +
		"- Which projects are currently active?"
	clarifyReply     = "I'm not sure what you're asking for. Could you rephrase the question? I can look up people, skills, availability, and project allocations."
	unavailableReply = "I'm having trouble understanding requests right now. Please try again in a moment."
)

// Classify routes a message. It never returns an error for a usable
// fallback: when the model is unreachable the canned reply is returned
// alongside ErrUnavailable so callers can log the cause.
func (c *Classifier) Classify(ctx context.Context, message string, history []Exchange) (Classification, error) {
	trimmed := strings.TrimSpace(message)
	lowered := strings.ToLower(trimmed)

	switch {
	case trimmed == "":
		return Classification{Category: CategoryGeneral, Direct: true, Reply: clarifyReply}, nil
	case greetingPattern.MatchString(lowered):
		return Classification{Category: CategoryGeneral, Direct: true, Reply: greetingReply, Confidence: 1}, nil
	case helpPattern.MatchString(lowered):
		return Classification{Category: CategoryGeneral, Direct: true, Reply: helpReply, Confidence: 1}, nil
	case thanksPattern.MatchString(lowered) && len(trimmed) < 40:
		return Classification{Category: CategoryGeneral, Direct: true, Reply: thanksReply, Confidence: 1}, nil
	}

	question := c.contextualize(ctx, trimmed, history)

	decision, err := c.classifyWithModel(ctx, question)
	if err != nil {
		c.logger.Warn("intent classification failed",
			slog.String("error", err.Error()),
		)
		return Classification{Category: CategoryGeneral, Direct: true, Reply: unavailableReply}, errors.Join(ErrUnavailable, err)
	}

	if decision.Confidence < c.threshold || decision.Category == CategoryGeneral {
		return Classification{
			Category:   CategoryGeneral,
			Confidence: decision.Confidence,
			Direct:     true,
			Reply:      clarifyReply,
		}, nil
	}

	decision.Question = question
	return decision, nil
}

const classifySystemPrompt = `You classify questions for a resource allocation assistant.
Respond with a single JSON object and nothing else:
{"category": "<category>", "confidence": <0.0-1.0>, "parameters": {"skill": "...", "designation": "...", "project": "...", "status": "...", "date": "..."}}
Omit parameters that do not appear in the question.`

func (c *Classifier) classifyWithModel(ctx context.Context, question string) (Classification, error) {
	var catalog strings.Builder
	for _, category := range []Category{CategoryEmployeeSearch, CategoryAvailability, CategoryAllocation, CategoryProjectStatus, CategorySkillSearch} {
		fmt.Fprintf(&catalog, "- %s: %s\n", category, dataCategories[category])
	}
	fmt.Fprintf(&catalog, "- %s: greetings, small talk, or anything unrelated to the resource pool\n", CategoryGeneral)

	response, err := c.client.Complete(ctx, llm.Request{
		Purpose:     "classify",
		Temperature: c.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifySystemPrompt + "\n\nCategories:\n" + catalog.String()},
			{Role: llm.RoleUser, Content: question},
		},
	})
	if err != nil {
		return Classification{}, err
	}

	return parseClassification(response.Content)
}

func parseClassification(content string) (Classification, error) {
	payload := extractJSONObject(content)
	if payload == "" {
		return Classification{}, fmt.Errorf("no JSON object in classification response")
	}

	var parsed struct {
		Category   string            `json:"category"`
		Confidence float64           `json:"confidence"`
		Parameters map[string]string `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Classification{}, fmt.Errorf("decode classification response: %w", err)
	}

	category := Category(strings.TrimSpace(strings.ToLower(parsed.Category)))
	if _, known := dataCategories[category]; !known && category != CategoryGeneral {
		category = CategoryGeneral
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}

	return Classification{
		Category:   category,
		Confidence: parsed.Confidence,
		Parameters: parsed.Parameters,
	}, nil
}

// extractJSONObject tolerates models that wrap the object in prose or
// markdown fences.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

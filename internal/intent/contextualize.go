package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resourcewise/resourcewise/internal/llm"
)

// Markers that usually point back at an earlier answer. A message without
// any of these is taken at face value and never costs a model call.
var referenceMarkers = []string{
	"them",
	"those",
	"these",
	"they",
	"their",
	"him",
	"her",
	"it",
	"also",
	"too",
	"instead",
	"as well",
	"what about",
	"how about",
	"which ones",
	"the same",
	"the first",
	"the last",
	"that one",
	"only the",
}

func looksReferential(message string) bool {
	lowered := " " + strings.ToLower(message) + " "
	for _, marker := range referenceMarkers {
		if strings.Contains(lowered, " "+marker+" ") ||
			strings.Contains(lowered, " "+marker+"?") ||
			strings.Contains(lowered, " "+marker+".") ||
			strings.Contains(lowered, " "+marker+",") {
			return true
		}
	}
	return false
}

const contextualizeSystemPrompt = `You rewrite follow-up questions so they stand alone.
Given the conversation so far and a new message, produce one self-contained
question that means the same thing. If the message already stands alone,
return it unchanged. Respond with the question only.`

// contextualize resolves references like "which of them know Python?"
// against recent turns. Any failure falls back to the original message:
// a literal reading is better than no answer.
func (c *Classifier) contextualize(ctx context.Context, message string, history []Exchange) string {
	if len(history) == 0 || !looksReferential(message) {
		return message
	}

	var transcript strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&transcript, "User: %s\nAssistant: %s\n", turn.Question, turn.Answer)
	}
	fmt.Fprintf(&transcript, "User: %s", message)

	response, err := c.client.Complete(ctx, llm.Request{
		Purpose:     "contextualize",
		Temperature: c.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: contextualizeSystemPrompt},
			{Role: llm.RoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		c.logger.Warn("follow-up contextualization failed, using literal message",
			slog.String("error", err.Error()),
		)
		return message
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(response.Content), `"`))
	if rewritten == "" {
		return message
	}
	return rewritten
}

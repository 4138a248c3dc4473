package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/resourcewise/resourcewise/internal/chat"
)

const maxQueryLength = 2000

type chatRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Metadata  map[string]string `json:"metadata"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Category  string `json:"category"`
	Failed    bool   `json:"failed"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return chatRequest{}, false
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return chatRequest{}, false
	}
	if utf8.RuneCountInString(request.Query) > maxQueryLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_TOO_LONG", "query exceeds the maximum length", false, map[string]any{"max_length": maxQueryLength})
		return chatRequest{}, false
	}
	return request, true
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Orchestrator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	request, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	answer := deps.Orchestrator.Ask(r.Context(), request.SessionID, request.Query)
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: answer.SessionID,
		Reply:     answer.Reply,
		Category:  string(answer.Category),
		Failed:    answer.Failed,
	})
}

func handleChatStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Orchestrator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	request, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(event chat.Event) error {
		if err := chat.WriteSSE(w, event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := deps.Orchestrator.Respond(r.Context(), request.SessionID, request.Query, emit); err != nil {
		// Headers are gone; the client most likely disconnected mid-stream.
		if deps.Logger != nil {
			deps.Logger.Warn("chat stream ended early", "error", err.Error())
		}
		return
	}

	if err := chat.WriteSSETerminator(w); err == nil {
		flusher.Flush()
	}
}

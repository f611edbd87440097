// Package httpapi exposes the gateway's HTTP surface: a POST /chat
// endpoint that runs the agent and answers in the OpenAI
// chat.completion shape, plus a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/cgthayer/agentgateway/pkg/agent"
)

// Runner is the agent surface the API needs.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Options configure the HTTP handler.
type Options struct {
	// Agent answers chat prompts.
	Agent Runner
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

type handler struct {
	agent  Runner
	logger *slog.Logger
}

// New builds the gateway's HTTP handler with CORS applied.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{agent: opts.Agent, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.chat)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return cors.Default().Handler(mux)
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// completionResponse is the OpenAI-style chat.completion envelope.
type completionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Missing 'prompt'")
		return
	}

	content, err := h.agent.Run(r.Context(), req.Prompt)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrNotConfigured) {
			h.logger.Error("agent not configured", "error", err)
		} else {
			h.logger.Error("agent run failed", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   h.agent.Model(),
		Choices: []choice{{
			Message:      message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

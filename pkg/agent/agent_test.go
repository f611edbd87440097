package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cgthayer/agentgateway/pkg/toolhost"
)

// fakeToolbox records calls and plays back canned results.
type fakeToolbox struct {
	descs []toolhost.ToolDescriptor

	mu     sync.Mutex
	calls  []string
	args   []map[string]any
	result string
	err    error
}

func (f *fakeToolbox) Descriptors() []toolhost.ToolDescriptor { return f.descs }

func (f *fakeToolbox) Call(name string, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.result, f.err
}

// scriptedAPI serves one canned chat-completion response per request,
// in order, and records every request body it saw.
type scriptedAPI struct {
	t *testing.T

	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	replies  []openai.ChatCompletionResponse
}

func (s *scriptedAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.t.Errorf("decoding request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		if len(s.replies) == 0 {
			s.mu.Unlock()
			s.t.Errorf("request beyond script: %+v", req)
			http.Error(w, "script exhausted", http.StatusInternalServerError)
			return
		}
		reply := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			s.t.Errorf("encoding reply: %v", err)
		}
	})
}

func (s *scriptedAPI) recorded() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), s.requests...)
}

func finalReply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

func toolCallReply(id, tool, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   id,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tool,
						Arguments: arguments,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}
}

func newTestAgent(t *testing.T, api *scriptedAPI, toolbox Toolbox, maxSteps int) *Agent {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return New(toolbox, Options{
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/v1",
		Model:    "test-model",
		MaxSteps: maxSteps,
	})
}

func TestAgentRunDirectAnswer(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{t: t, replies: []openai.ChatCompletionResponse{finalReply("hello there")}}
	a := newTestAgent(t, api, nil, 0)

	out, err := a.Run(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("Run = %q", out)
	}

	reqs := api.recorded()
	if len(reqs) != 1 {
		t.Fatalf("made %d requests, expected 1", len(reqs))
	}
	if reqs[0].Model != "test-model" {
		t.Fatalf("model = %q", reqs[0].Model)
	}
	if len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "say hello" {
		t.Fatalf("unexpected messages: %+v", reqs[0].Messages)
	}
}

func TestAgentRunToolLoop(t *testing.T) {
	t.Parallel()

	toolbox := &fakeToolbox{
		descs: []toolhost.ToolDescriptor{{
			Name:        "search_find",
			Description: "finds things",
			Params:      []toolhost.Param{{Name: "query", Type: "string", Required: true}},
		}},
		result: "three results",
	}
	api := &scriptedAPI{t: t, replies: []openai.ChatCompletionResponse{
		toolCallReply("call_1", "search_find", `{"query":"go"}`),
		finalReply("found them"),
	}}
	a := newTestAgent(t, api, toolbox, 0)

	out, err := a.Run(context.Background(), "find go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "found them" {
		t.Fatalf("Run = %q", out)
	}

	if len(toolbox.calls) != 1 || toolbox.calls[0] != "search_find" {
		t.Fatalf("tool calls = %v", toolbox.calls)
	}
	if got := toolbox.args[0]["query"]; got != "go" {
		t.Fatalf("tool args = %v", toolbox.args[0])
	}

	reqs := api.recorded()
	if len(reqs) != 2 {
		t.Fatalf("made %d requests, expected 2", len(reqs))
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Function.Name != "search_find" {
		t.Fatalf("advertised tools = %+v", reqs[0].Tools)
	}

	// Second request must carry the assistant tool call and its result.
	msgs := reqs[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, expected 3", len(msgs))
	}
	toolMsg := msgs[2]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if toolMsg.Content != "three results" {
		t.Fatalf("tool message content = %q", toolMsg.Content)
	}
}

func TestAgentToolFailureDegradesStep(t *testing.T) {
	t.Parallel()

	toolbox := &fakeToolbox{
		descs: []toolhost.ToolDescriptor{{Name: "search_find"}},
		err:   fmt.Errorf("backend unavailable"),
	}
	api := &scriptedAPI{t: t, replies: []openai.ChatCompletionResponse{
		toolCallReply("call_1", "search_find", `{}`),
		finalReply("could not search, sorry"),
	}}
	a := newTestAgent(t, api, toolbox, 0)

	out, err := a.Run(context.Background(), "find go")
	if err != nil {
		t.Fatalf("Run should survive a tool failure, got %v", err)
	}
	if out != "could not search, sorry" {
		t.Fatalf("Run = %q", out)
	}

	reqs := api.recorded()
	toolMsg := reqs[1].Messages[2]
	if !strings.Contains(toolMsg.Content, "tool error:") ||
		!strings.Contains(toolMsg.Content, "backend unavailable") {
		t.Fatalf("failure not surfaced to the model: %q", toolMsg.Content)
	}
}

func TestAgentUnknownToolRequested(t *testing.T) {
	t.Parallel()

	// A nil toolbox means every requested tool is unavailable.
	api := &scriptedAPI{t: t, replies: []openai.ChatCompletionResponse{
		toolCallReply("call_1", "ghost_tool", `{}`),
		finalReply("done without tools"),
	}}
	a := newTestAgent(t, api, nil, 0)

	out, err := a.Run(context.Background(), "use ghost_tool")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done without tools" {
		t.Fatalf("Run = %q", out)
	}
	reqs := api.recorded()
	if !strings.Contains(reqs[1].Messages[2].Content, "tool error:") {
		t.Fatalf("missing degraded tool message: %+v", reqs[1].Messages[2])
	}
}

func TestAgentStepLimit(t *testing.T) {
	t.Parallel()

	toolbox := &fakeToolbox{
		descs:  []toolhost.ToolDescriptor{{Name: "search_find"}},
		result: "more",
	}
	api := &scriptedAPI{t: t, replies: []openai.ChatCompletionResponse{
		toolCallReply("call_1", "search_find", `{}`),
		toolCallReply("call_2", "search_find", `{}`),
		toolCallReply("call_3", "search_find", `{}`),
	}}
	a := newTestAgent(t, api, toolbox, 3)

	_, err := a.Run(context.Background(), "loop forever")
	if err == nil || !strings.Contains(err.Error(), "no final answer after 3 steps") {
		t.Fatalf("error = %v, expected step-limit error", err)
	}
	if len(api.recorded()) != 3 {
		t.Fatalf("made %d requests, expected 3", len(api.recorded()))
	}
}

func TestAgentNotConfigured(t *testing.T) {
	t.Parallel()

	a := New(nil, Options{Model: "test-model"})
	if _, err := a.Run(context.Background(), "hello"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, expected ErrNotConfigured", err)
	}
}

func TestParseArguments(t *testing.T) {
	t.Parallel()

	if got := parseArguments(`{"a":1,"b":"x"}`); got["b"] != "x" {
		t.Fatalf("parseArguments = %v", got)
	}
	if got := parseArguments(""); len(got) != 0 {
		t.Fatalf("empty input = %v", got)
	}
	if got := parseArguments("not json"); len(got) != 0 {
		t.Fatalf("malformed input = %v", got)
	}
	if got := parseArguments("null"); got == nil || len(got) != 0 {
		t.Fatalf("null input = %v", got)
	}
}

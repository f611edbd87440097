// Package agent runs a tool-calling agent loop against an
// OpenAI-compatible chat-completions API. Tools come from a toolhost
// registry; a tool failure degrades that one step (the model sees the
// error text and keeps going) instead of aborting the request.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cgthayer/agentgateway/pkg/toolhost"
)

// ErrNotConfigured is returned by Run when no API key was provided.
var ErrNotConfigured = errors.New("agent: API key not configured")

// Toolbox is the slice of the toolhost registry the agent needs:
// descriptors to advertise and a synchronous call path.
type Toolbox interface {
	Descriptors() []toolhost.ToolDescriptor
	Call(name string, args map[string]any) (string, error)
}

// Options configure an Agent.
type Options struct {
	// APIKey authenticates against the chat-completions endpoint.
	APIKey string
	// BaseURL overrides the API endpoint for OpenAI-compatible hosts.
	BaseURL string
	// Model is the model identifier sent with every request.
	Model string
	// MaxSteps caps the number of model round-trips per Run. Defaults
	// to 20.
	MaxSteps int
	// Temperature for sampling. Zero means deterministic, matching the
	// gateway's default.
	Temperature float32
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Agent drives the model/tool loop for one configured model.
type Agent struct {
	client  *openai.Client
	toolbox Toolbox
	opts    Options
}

// New builds an Agent over the given toolbox. A nil toolbox yields an
// agent with no tools, which simply answers from the model.
func New(toolbox Toolbox, opts Options) *Agent {
	opts = opts.withDefaults()
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Agent{
		client:  openai.NewClientWithConfig(cfg),
		toolbox: toolbox,
		opts:    opts,
	}
}

// Model returns the configured model identifier.
func (a *Agent) Model() string { return a.opts.Model }

// Run answers one prompt, invoking tools as the model requests them,
// and returns the model's final text.
func (a *Agent) Run(ctx context.Context, prompt string) (string, error) {
	if a.opts.APIKey == "" {
		return "", ErrNotConfigured
	}

	tools := a.toolSpecs()
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	for step := 0; step < a.opts.MaxSteps; step++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.opts.Model,
			Messages:    messages,
			Tools:       tools,
			Temperature: a.opts.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("agent: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("agent: chat completion returned no choices")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    a.invokeTool(tc),
			})
		}
	}
	return "", fmt.Errorf("agent: no final answer after %d steps", a.opts.MaxSteps)
}

// invokeTool executes one requested tool call and renders its outcome
// as the tool message content. Failures are reported to the model as
// text so the run continues without that tool's result.
func (a *Agent) invokeTool(tc openai.ToolCall) string {
	name := tc.Function.Name
	a.opts.Logger.Debug("tool call requested", "tool", name)

	if a.toolbox == nil {
		return fmt.Sprintf("tool error: no tools are available (requested %q)", name)
	}
	args := parseArguments(tc.Function.Arguments)
	result, err := a.toolbox.Call(name, args)
	if err != nil {
		a.opts.Logger.Warn("tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("tool error: %v", err)
	}
	return result
}

func (a *Agent) toolSpecs() []openai.Tool {
	if a.toolbox == nil {
		return nil
	}
	descs := a.toolbox.Descriptors()
	specs := make([]openai.Tool, 0, len(descs))
	for _, d := range descs {
		specs = append(specs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.ParameterSchema(),
			},
		})
	}
	return specs
}

// parseArguments decodes the model's JSON argument string, tolerating
// empty and malformed payloads by treating them as no arguments.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

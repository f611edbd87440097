package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Param is one named parameter of a discovered tool.
type Param struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// ToolDescriptor describes one discovered tool: its externally visible
// prefixed name, the parameters declared by the server's input schema,
// and the server it came from. Parameter order follows the schema's
// required list, then the remaining optional names sorted.
type ToolDescriptor struct {
	Name        string
	Server      string
	RemoteName  string
	Description string
	Params      []Param

	// Schema is the server-declared input schema, decoded from its wire
	// form so consumers can advertise the contract the server published.
	Schema *jsonschema.Schema
}

// ParameterSchema returns the JSON-schema value describing this tool's
// arguments, suitable for embedding in an LLM tool specification.
func (d ToolDescriptor) ParameterSchema() any {
	if d.Schema != nil {
		return d.Schema
	}
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// validate rejects unknown argument names and missing required
// parameters before anything is sent to the remote server.
func (d ToolDescriptor) validate(args map[string]any) error {
	known := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		known[p.Name] = p
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return &ArgumentError{Tool: d.Name, Argument: name, Reason: "is not declared by the tool"}
		}
	}
	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return &ArgumentError{Tool: d.Name, Argument: p.Name, Reason: "is required"}
		}
	}
	return nil
}

// ToolAdapter exposes one remote tool under the local calling
// convention. Adapters hold a non-owning reference to their connection
// and never mutate its state.
type ToolAdapter struct {
	desc    ToolDescriptor
	conn    *Connection
	timeout time.Duration
}

func newAdapter(server string, tool *mcp.Tool, conn *Connection, timeout time.Duration) (*ToolAdapter, error) {
	name := server + "_" + tool.Name
	schema, err := decodeInputSchema(tool.InputSchema)
	if err != nil {
		return nil, &ConfigError{Name: name, Reason: fmt.Sprintf("invalid input schema: %v", err)}
	}
	return &ToolAdapter{
		desc: ToolDescriptor{
			Name:        name,
			Server:      server,
			RemoteName:  tool.Name,
			Description: tool.Description,
			Params:      paramsFromSchema(schema),
			Schema:      schema,
		},
		conn:    conn,
		timeout: timeout,
	}, nil
}

// decodeInputSchema converts a discovered tool's input schema into its
// typed form. On the client side the protocol layer delivers schemas as
// plain unmarshaled JSON (map[string]any), so a round-trip through the
// encoder is the lossless way back to a typed schema.
func decodeInputSchema(raw any) (*jsonschema.Schema, error) {
	if raw == nil {
		return nil, nil
	}
	if schema, ok := raw.(*jsonschema.Schema); ok {
		return schema, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Name returns the adapter's prefixed tool name.
func (a *ToolAdapter) Name() string { return a.desc.Name }

// Descriptor returns the adapter's tool descriptor.
func (a *ToolAdapter) Descriptor() ToolDescriptor { return a.desc }

// Call invokes the remote tool with the default deadline.
func (a *ToolAdapter) Call(args map[string]any) (string, error) {
	return a.CallWithTimeout(args, a.timeout)
}

// CallWithTimeout validates args against the discovered schema,
// dispatches the call onto the supervisor-owned connection queue, and
// blocks until the flattened result arrives or timeout elapses. All
// failure modes come back as error values; a call never panics across
// this boundary.
func (a *ToolAdapter) CallWithTimeout(args map[string]any, timeout time.Duration) (string, error) {
	if err := a.desc.validate(args); err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}
	if timeout <= 0 {
		timeout = a.timeout
	}

	// One absolute deadline covers both the wait for queue space and
	// the wait for the result, so a contended queue cannot stretch the
	// caller's total wait past timeout.
	deadline := time.Now().Add(timeout)
	callCtx, cancel := context.WithDeadline(context.Background(), deadline)
	call := &pendingCall{
		params: &mcp.CallToolParams{Name: a.desc.RemoteName, Arguments: args},
		ctx:    callCtx,
		cancel: cancel,
		handle: newHandle(cancel),
	}
	if err := a.conn.enqueue(call); err != nil {
		cancel()
		if errors.Is(err, errAwaitTimeout) {
			return "", &CallTimeoutError{Tool: a.desc.Name, Timeout: timeout}
		}
		return "", err
	}

	value, err := call.handle.Await(time.Until(deadline))
	if err != nil {
		if errors.Is(err, errAwaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return "", &CallTimeoutError{Tool: a.desc.Name, Timeout: timeout}
		}
		return "", err
	}
	res, ok := value.(*mcp.CallToolResult)
	if !ok || res == nil {
		return "", &RemoteToolError{Tool: a.desc.Name, Message: "empty result"}
	}
	text := flattenResult(res)
	if res.IsError {
		return "", &RemoteToolError{Tool: a.desc.Name, Message: text}
	}
	return text, nil
}

// flattenResult collapses the remote multi-block payload into one
// string: text blocks are concatenated, anything else is carried as its
// JSON encoding.
func flattenResult(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if encoded, err := json.Marshal(content); err == nil {
				parts = append(parts, string(encoded))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if encoded, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, "\n")
}

func paramsFromSchema(schema *jsonschema.Schema) []Param {
	if schema == nil || len(schema.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	params := make([]Param, 0, len(schema.Properties))
	for _, name := range schema.Required {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		required[name] = true
		params = append(params, newParam(name, prop, true))
	}
	optional := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		params = append(params, newParam(name, schema.Properties[name], false))
	}
	return params
}

func newParam(name string, prop *jsonschema.Schema, required bool) Param {
	p := Param{Name: name, Required: required}
	if prop != nil {
		p.Type = prop.Type
		p.Description = prop.Description
		if p.Type == "" && len(prop.Types) > 0 {
			p.Type = strings.Join(prop.Types, "|")
		}
	}
	return p
}

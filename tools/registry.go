// Package tools provides the tool registry that the server dispatches
// tools/list and tools/call against, plus the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Tool represents an invocable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the client.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args Args) (interface{}, error)
}

// Func adapts a plain function to Tool.
type Func struct {
	ToolName    string
	Desc        string
	InputSchema map[string]interface{}
	Handler     func(ctx context.Context, args Args) (interface{}, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Parameters() map[string]interface{} {
	if f.InputSchema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return f.InputSchema
}

func (f *Func) Execute(ctx context.Context, args Args) (interface{}, error) {
	return f.Handler(ctx, args)
}

// Definition is the client-facing tool definition returned by tools/list.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result of tools/call.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Registry holds all registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.InvalidInput("tool needs a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return errors.AlreadyExists("tool "+t.Name()+" already registered", errors.WithComponent(t.Name()))
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns the definitions of all tools, sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the named tool. An unknown name returns a NOT_FOUND error.
// A failing or panicking tool is reported as an error result together
// with a TOOL_FAILED error, so the caller can both answer the client and
// record the failure.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (result *CallResult, err error) {
	t := r.Get(name)
	if t == nil {
		return nil, errors.NotFound("unknown tool: "+name, errors.WithComponent(name))
	}
	if args == nil {
		args = Args{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.ToolFailed(name, errors.RecoverPanic(rec))
			result = errorResult(err)
		}
	}()

	out, execErr := t.Execute(ctx, args)
	if execErr != nil {
		if errors.Is(execErr, errors.ErrCodeInvalidInput) {
			return nil, execErr
		}
		err = errors.ToolFailed(name, execErr)
		return errorResult(err), err
	}

	text, err := render(out)
	if err != nil {
		err = errors.ToolFailed(name, err)
		return errorResult(err), err
	}
	return &CallResult{Content: []Content{{Type: "text", Text: text}}}, nil
}

func errorResult(err error) *CallResult {
	return &CallResult{
		Content: []Content{{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}

// render turns a tool's output into result text. Strings pass through,
// everything else is JSON encoded.
func render(out interface{}) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

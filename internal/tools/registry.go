package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samsaffron/term-relay/internal/llm"
)

// Executor dispatches tool calls to the registered tools by name.
type Executor struct {
	tools map[string]Tool
}

// NewExecutor builds an executor with every host tool registered.
func NewExecutor(cfg ToolConfig) (*Executor, error) {
	g, err := newGuard(cfg)
	if err != nil {
		return nil, err
	}
	limits := cfg.Limits.withDefaults()

	e := &Executor{tools: make(map[string]Tool)}
	e.register(&ShellTool{name: ShellToolName, guard: g, limits: limits})
	e.register(&ShellTool{name: RunCommandToolName, guard: g, limits: limits})
	e.register(&ReadFileTool{guard: g, limits: limits})
	e.register(&WriteFileTool{guard: g})
	e.register(&GlobTool{guard: g, limits: limits})
	e.register(&SpawnProcessTool{guard: g})
	return e, nil
}

func (e *Executor) register(t Tool) {
	e.tools[t.Name()] = t
}

// Names returns the registered tool names, sorted.
func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs call and returns its JSON-encodable result.
func (e *Executor) Execute(ctx context.Context, call llm.FunctionCall) (any, error) {
	tool, ok := e.tools[call.Name]
	if !ok {
		return nil, NewToolErrorf(ErrUnknownTool, "no tool named %q", call.Name)
	}
	args, err := marshalArgs(call.Args)
	if err != nil {
		return nil, err
	}
	return tool.Execute(ctx, args)
}

// Preview returns a short description of what call will do.
func (e *Executor) Preview(call llm.FunctionCall) string {
	tool, ok := e.tools[call.Name]
	if !ok {
		return ""
	}
	args, err := marshalArgs(call.Args)
	if err != nil {
		return ""
	}
	return tool.Preview(args)
}

func marshalArgs(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, NewToolError(ErrInvalidParams, fmt.Sprintf("encode arguments: %v", err))
	}
	return data, nil
}

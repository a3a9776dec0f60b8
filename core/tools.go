package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matijarozman/muse-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ToolDispatcher resolves model-issued tool calls against a registry of named
// tools. Dispatch never fails a batch: handler errors, handler panics and
// unknown tool names are all folded into the returned results.
type ToolDispatcher struct {
	mu    sync.RWMutex
	tools map[string]llms.Tool
}

func NewToolDispatcher(tools ...llms.Tool) *ToolDispatcher {
	dispatcher := &ToolDispatcher{tools: make(map[string]llms.Tool, len(tools))}
	dispatcher.Register(tools...)
	return dispatcher
}

// Register adds tools to the registry. Registering a name that already exists
// replaces the previous handler.
func (d *ToolDispatcher) Register(tools ...llms.Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, tool := range tools {
		d.tools[tool.Name] = tool
	}
}

// Tools returns a snapshot of the registered tools.
func (d *ToolDispatcher) Tools() []llms.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tools := make([]llms.Tool, 0, len(d.tools))
	for _, tool := range d.tools {
		tools = append(tools, tool)
	}
	return tools
}

// Dispatch resolves every call and returns one result per call, tagged with
// the originating call's name. Calls run concurrently, so result order may
// differ from call order.
func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []llms.ToolCall) []llms.ToolResult {
	results := make([]llms.ToolResult, 0, len(calls))

	var wg sync.WaitGroup
	var resultsMu sync.Mutex
	for _, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := d.dispatch(ctx, call)
			resultsMu.Lock()
			defer resultsMu.Unlock()
			results = append(results, result)
		}()
	}
	wg.Wait()

	return results
}

func (d *ToolDispatcher) dispatch(ctx context.Context, call llms.ToolCall) (result llms.ToolResult) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	defer func() {
		if recovered := recover(); recovered != nil {
			err := &llms.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("handler panicked: %v", recovered)}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result = llms.ToolResult{Name: call.Name, Err: err.Error()}
		}
	}()

	d.mu.RLock()
	tool, ok := d.tools[call.Name]
	d.mu.RUnlock()
	if !ok {
		err := &llms.ToolExecutionError{Tool: call.Name, Err: errors.New("tool not found")}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return llms.ToolResult{Name: call.Name, Err: err.Error()}
	}

	response, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		executionErr := &llms.ToolExecutionError{Tool: call.Name, Err: err}
		span.RecordError(executionErr)
		span.SetStatus(codes.Error, executionErr.Error())
		return llms.ToolResult{Name: call.Name, Err: executionErr.Error()}
	}

	return llms.ToolResult{Name: call.Name, Result: response}
}

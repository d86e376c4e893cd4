package prompt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/provider"
	"quorum/internal/queue"
)

// scriptedInvoker returns canned model results in order, repeating the last.
type scriptedInvoker struct {
	mu      sync.Mutex
	results []*provider.Result
	calls   int
	prompts []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ queue.TaskType, prompt string, _ []provider.ToolDescriptor) *provider.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

func finalResult(text string) *provider.Result {
	return &provider.Result{Text: text, FinishReason: "stop"}
}

func toolCallResult(calls ...provider.ToolCall) *provider.Result {
	return &provider.Result{FinishReason: "tool_calls", ToolCalls: calls}
}

func testPrompt(t *testing.T) *Prompt {
	t.Helper()
	prompt, err := Build(Source{TaskContext: "reply to p-1"})
	require.NoError(t, err)
	return prompt
}

func TestLoopReturnsFinalTextDirectly(t *testing.T) {
	invoker := &scriptedInvoker{results: []*provider.Result{finalResult("  spaced   out\n\n\n\ntext ")}}
	loop := NewLoop(invoker, nil, LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Equal(t, "spaced out\n\ntext", result.Text)
	require.Equal(t, "stop", result.FinishReason)
	require.Equal(t, 1, result.Iterations)
	require.False(t, result.TimedOut)
}

func TestLoopFeedsToolResultsBack(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name:     "lookup_thread",
		Required: []string{"post_id"},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return "thread has 4 replies about " + args["post_id"].(string), nil
		},
	}))

	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "lookup_thread", Arguments: `{"post_id":"p-1"}`}),
		finalResult("informed reply"),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Equal(t, "informed reply", result.Text)
	require.Equal(t, 2, result.Iterations)
	require.Empty(t, result.Failures)

	// Second model call saw the tool output.
	require.Len(t, invoker.prompts, 2)
	require.Contains(t, invoker.prompts[1], "thread has 4 replies about p-1")
}

func TestLoopValidationFailureSkipsHandler(t *testing.T) {
	handlerRan := false
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name:     "vote",
		Required: []string{"direction"},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			handlerRan = true
			return "ok", nil
		},
	}))

	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "vote", Arguments: `{"post_id":"p-1"}`}),
		finalResult("done anyway"),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskVote, testPrompt(t))
	require.False(t, handlerRan, "handler must not run on validation failure")
	require.Equal(t, "done anyway", result.Text)
	require.Len(t, result.Failures, 1)
	require.Equal(t, FailureValidation, result.Failures[0].Kind)
	require.Contains(t, result.Failures[0].Message, "direction")
}

func TestLoopHandlerErrorContinues(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name: "flaky",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("backend gone")
		},
	}))

	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "flaky", Arguments: `{}`}),
		finalResult("recovered"),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Equal(t, "recovered", result.Text)
	require.Len(t, result.Failures, 1)
	require.Equal(t, FailureHandler, result.Failures[0].Kind)
}

func TestLoopRepairsMalformedArguments(t *testing.T) {
	var got map[string]any
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name:     "search",
		Required: []string{"query"},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			got = args
			return "results", nil
		},
	}))

	// Single quotes and a trailing comma: json.Unmarshal rejects, repair fixes.
	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "search", Arguments: `{'query': 'tomato blight',}`}),
		finalResult("ok"),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Empty(t, result.Failures)
	require.Equal(t, "tomato blight", got["query"])
}

func TestLoopTimeoutFailsSafe(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-time.After(80 * time.Millisecond):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "slow", Arguments: `{}`}),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{MaxIterations: 3, Timeout: 20 * time.Millisecond}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.True(t, result.TimedOut)
	require.Equal(t, "", result.Text)
	require.Equal(t, ReasonToolLoopTimeout, result.ErrorMessage)
}

func TestLoopIterationExhaustion(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Tool{
		Name:    "ping",
		Handler: func(_ context.Context, _ map[string]any) (string, error) { return "pong", nil },
	}))

	// Model keeps asking for tools forever.
	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "ping", Arguments: `{}`}),
	}}
	loop := NewLoop(invoker, registry, LoopConfig{MaxIterations: 3, Timeout: 5 * time.Second}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Equal(t, 3, result.Iterations)
	require.Equal(t, ReasonIterationsExhausted, result.ErrorMessage)
	require.Equal(t, "", result.Text)
	require.False(t, result.TimedOut)
}

func TestLoopUnknownToolIsValidationFailure(t *testing.T) {
	invoker := &scriptedInvoker{results: []*provider.Result{
		toolCallResult(provider.ToolCall{ID: "c1", Name: "rm_rf", Arguments: `{}`}),
		finalResult("clean"),
	}}
	loop := NewLoop(invoker, NewRegistry(), LoopConfig{}, nil, nil)

	result := loop.Run(context.Background(), queue.TaskReply, testPrompt(t))
	require.Len(t, result.Failures, 1)
	require.Equal(t, FailureValidation, result.Failures[0].Kind)
	require.True(t, strings.Contains(result.Failures[0].Message, "allow-list"))
}

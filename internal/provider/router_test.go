package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/events"
	"quorum/internal/queue"
)

// scriptedAdapter returns its responses in order, then repeats the last one.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []func() (*GenerateResult, error)
	calls     int
}

func (a *scriptedAdapter) GenerateText(_ context.Context, _ GenerateRequest) (*GenerateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	a.calls++
	return a.responses[idx]()
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func ok(text string) func() (*GenerateResult, error) {
	return func() (*GenerateResult, error) {
		in, out, total := 10, 5, 15
		return &GenerateResult{
			Text:         text,
			FinishReason: "stop",
			InputTokens:  &in,
			OutputTokens: &out,
			TotalTokens:  &total,
		}, nil
	}
}

func boom(msg string) func() (*GenerateResult, error) {
	return func() (*GenerateResult, error) {
		return nil, errors.New(msg)
	}
}

func errFinish(msg string) func() (*GenerateResult, error) {
	return func() (*GenerateResult, error) {
		return &GenerateResult{FinishReason: "error", ErrorMessage: msg}, nil
	}
}

func fastConfig(retries int) Config {
	return Config{
		Retries:        retries,
		AttemptTimeout: time.Second,
		RetryBackoff:   time.Millisecond,
	}
}

func singleRoute(primary Route, secondary *Route) RouteTable {
	return RouteTable{Default: RoutePair{Primary: primary, Secondary: secondary}}
}

func TestInvokeSuccessFirstAttempt(t *testing.T) {
	adapter := &scriptedAdapter{responses: []func() (*GenerateResult, error){ok("hello")}}
	router := NewRouter(
		singleRoute(Route{ProviderID: "openai", ModelID: "gpt-x"}, nil),
		map[string]Adapter{"openai": adapter},
		fastConfig(2), nil, nil)

	result := router.Invoke(context.Background(), queue.TaskReply, "prompt", nil)
	require.Equal(t, "hello", result.Text)
	require.Equal(t, "stop", result.FinishReason)
	require.Equal(t, []string{"openai:gpt-x"}, result.AttemptPath)
	require.False(t, result.FellBack)
	require.False(t, result.Usage.Normalized)
	require.Equal(t, 15, result.Usage.TotalTokens)
	require.Equal(t, 1, adapter.callCount())
}

func TestInvokeRetriesWithinStage(t *testing.T) {
	adapter := &scriptedAdapter{responses: []func() (*GenerateResult, error){
		boom("connection reset"),
		errFinish("overloaded"),
		ok("third time lucky"),
	}}
	router := NewRouter(
		singleRoute(Route{ProviderID: "openai", ModelID: "gpt-x"}, nil),
		map[string]Adapter{"openai": adapter},
		fastConfig(2), nil, nil)

	result := router.Invoke(context.Background(), queue.TaskReply, "prompt", nil)
	require.Equal(t, "third time lucky", result.Text)
	require.Equal(t, 3, adapter.callCount())
}

func TestInvokeFallsBackToSecondary(t *testing.T) {
	primary := &scriptedAdapter{responses: []func() (*GenerateResult, error){boom("down")}}
	secondary := &scriptedAdapter{responses: []func() (*GenerateResult, error){ok("backup")}}
	sink := events.NewMemorySink()

	router := NewRouter(
		singleRoute(
			Route{ProviderID: "openai", ModelID: "gpt-x"},
			&Route{ProviderID: "anthropic", ModelID: "claude-y"}),
		map[string]Adapter{"openai": primary, "anthropic": secondary},
		fastConfig(1), sink, nil)

	result := router.Invoke(context.Background(), queue.TaskPost, "prompt", nil)
	require.Equal(t, "backup", result.Text)
	require.True(t, result.FellBack)
	require.Equal(t, []string{"openai:gpt-x", "anthropic:claude-y"}, result.AttemptPath)
	require.Equal(t, 2, primary.callCount()) // retries+1

	fallbacks := sink.ByKind(events.KindProviderFallback)
	require.Len(t, fallbacks, 1)
	require.Equal(t, "primary_exhausted", fallbacks[0].ReasonCode)
}

func TestInvokeFailSafeAfterTotalExhaustion(t *testing.T) {
	primary := &scriptedAdapter{responses: []func() (*GenerateResult, error){boom("primary down")}}
	secondary := &scriptedAdapter{responses: []func() (*GenerateResult, error){boom("secondary down")}}

	router := NewRouter(
		singleRoute(
			Route{ProviderID: "openai", ModelID: "gpt-x"},
			&Route{ProviderID: "anthropic", ModelID: "claude-y"}),
		map[string]Adapter{"openai": primary, "anthropic": secondary},
		fastConfig(1), nil, nil)

	result := router.Invoke(context.Background(), queue.TaskComment, "prompt", nil)
	require.Equal(t, "", result.Text)
	require.Equal(t, "error", result.FinishReason)
	require.Contains(t, result.ErrorMessage, "secondary down")
	require.Equal(t, []string{"openai:gpt-x", "anthropic:claude-y"}, result.AttemptPath)
}

func TestInvokeNormalizesMissingUsage(t *testing.T) {
	adapter := &scriptedAdapter{responses: []func() (*GenerateResult, error){
		func() (*GenerateResult, error) {
			return &GenerateResult{Text: "no usage reported", FinishReason: "stop"}, nil
		},
	}}
	router := NewRouter(
		singleRoute(Route{ProviderID: "openai", ModelID: "gpt-x"}, nil),
		map[string]Adapter{"openai": adapter},
		fastConfig(0), nil, nil)

	result := router.Invoke(context.Background(), queue.TaskReply, "some prompt text", nil)
	require.True(t, result.Usage.Normalized)
	require.Greater(t, result.Usage.TotalTokens, 0)
	require.Equal(t, result.Usage.InputTokens+result.Usage.OutputTokens, result.Usage.TotalTokens)
}

func TestInvokeUnknownProviderFailsSafe(t *testing.T) {
	router := NewRouter(
		singleRoute(Route{ProviderID: "nope", ModelID: "x"}, nil),
		map[string]Adapter{},
		fastConfig(3), nil, nil)

	result := router.Invoke(context.Background(), queue.TaskReply, "prompt", nil)
	require.Equal(t, "error", result.FinishReason)
	require.Contains(t, result.ErrorMessage, "nope")
}

func TestRouteTableResolution(t *testing.T) {
	table := RouteTable{
		Default: RoutePair{Primary: Route{ProviderID: "openai", ModelID: "default"}},
		ByType: map[queue.TaskType]RoutePair{
			queue.TaskImagePost: {Primary: Route{ProviderID: "openai", ModelID: "vision"}},
		},
	}
	require.Equal(t, "vision", table.Resolve(queue.TaskImagePost).Primary.ModelID)
	require.Equal(t, "default", table.Resolve(queue.TaskVote).Primary.ModelID)
}

package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"quorum/internal/events"
	"quorum/internal/logging"
	"quorum/internal/provider"
	"quorum/internal/queue"
)

// Loop termination reason codes.
const (
	ReasonToolLoopTimeout     = "tool_loop_timeout"
	ReasonIterationsExhausted = "max_iterations_exhausted"
	ReasonFinished            = "finished"
)

// Tool failure kinds recorded on the loop result.
const (
	FailureValidation = "validation"
	FailureHandler    = "handler"
)

// LoopConfig bounds the tool loop.
type LoopConfig struct {
	MaxIterations int           // default 3
	Timeout       time.Duration // overall wall clock, default 2500ms
}

func (c *LoopConfig) defaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 2500 * time.Millisecond
	}
}

// ToolFailure records one tool call that could not run to completion. The
// loop continues past failures; they are surfaced for observability.
type ToolFailure struct {
	CallID  string
	Tool    string
	Kind    string // validation or handler
	Message string
}

// LoopResult is the loop's terminal, non-throwing output.
type LoopResult struct {
	Text         string
	FinishReason string
	Iterations   int
	TimedOut     bool
	ErrorMessage string
	Failures     []ToolFailure
}

// Invoker executes one model call; satisfied by *provider.Router.
type Invoker interface {
	Invoke(ctx context.Context, taskType queue.TaskType, prompt string, tools []provider.ToolDescriptor) *provider.Result
}

// Loop drives the iterative model → tool calls → model cycle.
type Loop struct {
	invoker  Invoker
	registry *Registry
	config   LoopConfig
	sink     events.Sink
	logger   logging.Logger
}

// NewLoop creates a tool loop. registry may be empty, in which case every
// requested tool call is a validation failure.
func NewLoop(invoker Invoker, registry *Registry, config LoopConfig, sink events.Sink, logger logging.Logger) *Loop {
	config.defaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loop{
		invoker:  invoker,
		registry: registry,
		config:   config,
		sink:     events.OrNop(sink),
		logger:   logging.OrNop(logger),
	}
}

// Run executes the loop for a composed prompt. It never returns an error:
// timeout and iteration exhaustion resolve to a terminal LoopResult the
// caller can map onto skip/fail/retry logic.
func (l *Loop) Run(ctx context.Context, taskType queue.TaskType, composed *Prompt) *LoopResult {
	loopCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	result := &LoopResult{}
	var transcript []string

	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		if loopCtx.Err() != nil {
			return l.timedOut(result, taskType)
		}
		result.Iterations = iteration + 1

		modelOut := l.invoker.Invoke(loopCtx, taskType, promptWithTranscript(composed, transcript), l.registry.Descriptors())
		if loopCtx.Err() != nil {
			return l.timedOut(result, taskType)
		}

		if modelOut.FinishReason != "tool_calls" || len(modelOut.ToolCalls) == 0 {
			result.Text = CollapseWhitespace(modelOut.Text)
			result.FinishReason = modelOut.FinishReason
			result.ErrorMessage = modelOut.ErrorMessage
			l.emit(taskType, ReasonFinished)
			return result
		}

		for _, call := range modelOut.ToolCalls {
			entry, failure := l.executeCall(loopCtx, call)
			if failure != nil {
				result.Failures = append(result.Failures, *failure)
				transcript = append(transcript, fmt.Sprintf("tool %s failed: %s", call.Name, failure.Message))
				continue
			}
			if loopCtx.Err() != nil {
				return l.timedOut(result, taskType)
			}
			transcript = append(transcript, entry)
		}

		if loopCtx.Err() != nil {
			return l.timedOut(result, taskType)
		}
	}

	result.Text = ""
	result.FinishReason = "error"
	result.ErrorMessage = ReasonIterationsExhausted
	l.emit(taskType, ReasonIterationsExhausted)
	return result
}

// executeCall validates and runs one tool call. A validation problem or a
// handler error is returned as a ToolFailure; the handler runs under the
// loop context so a stuck tool cannot outlive the deadline.
func (l *Loop) executeCall(ctx context.Context, call provider.ToolCall) (string, *ToolFailure) {
	tool, known := l.registry.Get(call.Name)
	if !known {
		return "", &ToolFailure{
			CallID: call.ID, Tool: call.Name, Kind: FailureValidation,
			Message: "tool not in allow-list",
		}
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return "", &ToolFailure{
			CallID: call.ID, Tool: call.Name, Kind: FailureValidation,
			Message: fmt.Sprintf("malformed arguments: %v", err),
		}
	}
	for _, key := range tool.Required {
		if _, present := args[key]; !present {
			return "", &ToolFailure{
				CallID: call.ID, Tool: call.Name, Kind: FailureValidation,
				Message: fmt.Sprintf("missing required argument %q", key),
			}
		}
	}

	type handlerOut struct {
		text string
		err  error
	}
	done := make(chan handlerOut, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOut{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		text, err := tool.Handler(ctx, args)
		done <- handlerOut{text: text, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", &ToolFailure{
				CallID: call.ID, Tool: call.Name, Kind: FailureHandler,
				Message: out.err.Error(),
			}
		}
		return fmt.Sprintf("tool %s: %s", call.Name, out.text), nil
	case <-ctx.Done():
		return "", &ToolFailure{
			CallID: call.ID, Tool: call.Name, Kind: FailureHandler,
			Message: "handler cut off by loop deadline",
		}
	}
}

func (l *Loop) timedOut(result *LoopResult, taskType queue.TaskType) *LoopResult {
	result.Text = ""
	result.TimedOut = true
	result.FinishReason = "error"
	result.ErrorMessage = ReasonToolLoopTimeout
	l.emit(taskType, ReasonToolLoopTimeout)
	return result
}

func (l *Loop) emit(taskType queue.TaskType, reason string) {
	l.sink.Emit(events.Event{
		Kind:       events.KindToolLoop,
		TaskType:   string(taskType),
		ReasonCode: reason,
		OccurredAt: time.Now(),
	})
}

// parseArguments decodes tool-call arguments, repairing malformed JSON
// before giving up. Models regularly emit truncated or single-quoted JSON.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(raw)
	if repairErr != nil {
		return nil, fmt.Errorf("unparseable JSON: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("unparseable even after repair: %w", err)
	}
	return args, nil
}

func promptWithTranscript(composed *Prompt, transcript []string) string {
	text := composed.Text()
	if len(transcript) == 0 {
		return text
	}
	return text + "\n\n## tool_results\n" + strings.Join(transcript, "\n")
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// CollapseWhitespace normalizes model output: runs of spaces and tabs
// become one space, runs of blank lines become one blank line, and the
// result is trimmed.
func CollapseWhitespace(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

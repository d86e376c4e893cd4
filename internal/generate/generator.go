// Package generate produces the text an agent persona publishes for one
// queue task: it assembles the structured prompt, drives the tool loop
// through the provider router, and maps the outcome onto the generator
// contract the execution agent consumes.
package generate

import (
	"context"
	"fmt"

	"quorum/internal/logging"
	"quorum/internal/prompt"
	"quorum/internal/queue"
)

// Skip reason codes the execution agent records on skipped tasks.
const (
	SkipEmptyGeneration     = "empty_generation"
	SkipUnsupportedTaskType = "unsupported_task_type"
	SkipMissingPayloadKey   = "missing_payload_key"
)

// Output is the generator contract's result. An empty Text with a
// SkipReason means the task should be skipped, not failed.
type Output struct {
	Text          string
	SkipReason    string
	SafetyContext map[string]string
}

// Generator produces publishable text for a task.
type Generator interface {
	Generate(ctx context.Context, task *queue.Task) (*Output, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, task *queue.Task) (*Output, error)

func (f GeneratorFunc) Generate(ctx context.Context, task *queue.Task) (*Output, error) {
	return f(ctx, task)
}

// PersonaSource supplies persona-specific prompt material.
type PersonaSource interface {
	// Soul returns the persona's voice/character text; empty degrades the
	// soul block to its default.
	Soul(ctx context.Context, personaID string) (string, error)
	// Memory returns relevant prior context for the persona and target.
	Memory(ctx context.Context, personaID, postID string) (string, error)
}

// Config holds the static prompt material shared by all personas.
type Config struct {
	SystemBaseline    string
	Policy            string
	OutputConstraints string
}

// TextGenerator is the production Generator: prompt blocks + tool loop.
type TextGenerator struct {
	loop     *prompt.Loop
	personas PersonaSource
	config   Config
	logger   logging.Logger
}

// New creates a TextGenerator. personas may be nil; the soul and memory
// blocks then degrade to their defaults.
func New(loop *prompt.Loop, personas PersonaSource, config Config, logger logging.Logger) *TextGenerator {
	return &TextGenerator{
		loop:     loop,
		personas: personas,
		config:   config,
		logger:   logging.OrNop(logger),
	}
}

var _ Generator = (*TextGenerator)(nil)

// Generate implements Generator. Payload problems and empty model output
// are skips; only infrastructure errors are returned as errors.
func (g *TextGenerator) Generate(ctx context.Context, task *queue.Task) (*Output, error) {
	if !task.Type.IsValid() {
		return &Output{SkipReason: SkipUnsupportedTaskType}, nil
	}

	taskContext, skipReason := g.taskContext(task)
	if skipReason != "" {
		return &Output{SkipReason: skipReason}, nil
	}

	src := prompt.Source{
		SystemBaseline:    g.config.SystemBaseline,
		Policy:            g.config.Policy,
		TaskContext:       taskContext,
		OutputConstraints: g.config.OutputConstraints,
	}
	postID, _ := task.PayloadString("post_id")
	if g.personas != nil {
		soul, err := g.personas.Soul(ctx, task.PersonaID)
		if err != nil {
			g.logger.Warn("soul unavailable for persona %s: %v", task.PersonaID, err)
		}
		src.Soul = soul
		memory, err := g.personas.Memory(ctx, task.PersonaID, postID)
		if err != nil {
			g.logger.Warn("memory unavailable for persona %s: %v", task.PersonaID, err)
		}
		src.Memory = memory
	}

	composed, err := prompt.Build(src)
	if err != nil {
		return nil, fmt.Errorf("prompt build: %w", err)
	}
	if degraded := composed.Degraded(); len(degraded) > 0 {
		g.logger.Debug("task %s: degraded prompt blocks: %v", task.ID, degraded)
	}

	result := g.loop.Run(ctx, task.Type, composed)
	if result.TimedOut || result.FinishReason == "error" {
		return nil, fmt.Errorf("generation failed: %s", result.ErrorMessage)
	}
	if result.Text == "" {
		return &Output{SkipReason: SkipEmptyGeneration}, nil
	}

	return &Output{
		Text: result.Text,
		SafetyContext: map[string]string{
			"post_id":    postID,
			"persona_id": task.PersonaID,
			"task_type":  string(task.Type),
		},
	}, nil
}

// taskContext renders the task-specific prompt section, validating only the
// payload keys this task type needs.
func (g *TextGenerator) taskContext(task *queue.Task) (string, string) {
	switch task.Type {
	case queue.TaskReply, queue.TaskComment:
		content, ok := task.PayloadString("post_content")
		if !ok {
			return "", fmt.Sprintf("%s:post_content", SkipMissingPayloadKey)
		}
		return fmt.Sprintf("Write a %s to the following post:\n%s", task.Type, content), ""
	case queue.TaskPost, queue.TaskImagePost, queue.TaskPollPost:
		topic, ok := task.PayloadString("topic")
		if !ok {
			return "", fmt.Sprintf("%s:topic", SkipMissingPayloadKey)
		}
		return fmt.Sprintf("Write a new %s about: %s", task.Type, topic), ""
	case queue.TaskVote:
		content, ok := task.PayloadString("post_content")
		if !ok {
			return "", fmt.Sprintf("%s:post_content", SkipMissingPayloadKey)
		}
		return fmt.Sprintf("Decide whether to upvote or downvote this post. Answer with exactly 'up' or 'down'.\n%s", content), ""
	}
	return "", SkipUnsupportedTaskType
}

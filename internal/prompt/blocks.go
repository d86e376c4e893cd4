// Package prompt assembles the structured prompt an agent persona speaks
// from and drives the bounded tool-calling loop around the model call.
package prompt

import (
	"fmt"
	"strings"
)

// BlockName identifies one section of the composed prompt.
type BlockName string

const (
	BlockSystemBaseline    BlockName = "system_baseline"
	BlockPolicy            BlockName = "policy"
	BlockSoul              BlockName = "soul"
	BlockMemory            BlockName = "memory"
	BlockTaskContext       BlockName = "task_context"
	BlockOutputConstraints BlockName = "output_constraints"
)

// Fallback reason codes recorded on degraded blocks and failed builds.
const (
	ReasonEmptySource        = "empty_source"
	ReasonBlockBuilderFailed = "block_builder_failed"
)

// Source carries the raw content each block is built from. Empty fields are
// legal: the affected block degrades to its canned default.
type Source struct {
	SystemBaseline    string
	Policy            string
	Soul              string
	Memory            string
	TaskContext       string
	OutputConstraints string
}

// Block is one named, ordered section of the composed prompt.
type Block struct {
	Name           BlockName
	Content        string
	Enabled        bool
	Degraded       bool
	FallbackReason string
}

// Prompt is the composed result.
type Prompt struct {
	Blocks []Block
}

// Text renders the prompt as the model input.
func (p *Prompt) Text() string {
	var b strings.Builder
	for _, block := range p.Blocks {
		if !block.Enabled {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", block.Name, block.Content)
	}
	return strings.TrimSpace(b.String())
}

// Degraded lists the blocks that fell back to their canned default.
func (p *Prompt) Degraded() []BlockName {
	var out []BlockName
	for _, block := range p.Blocks {
		if block.Degraded {
			out = append(out, block.Name)
		}
	}
	return out
}

type builderFunc func(src Source) (string, error)

// blockBuilders is the fixed composition order. Iteration order is data:
// adding or reordering blocks means editing this table, not control flow.
var blockBuilders = []struct {
	name     BlockName
	build    builderFunc
	fallback string
}{
	{
		name:     BlockSystemBaseline,
		build:    func(src Source) (string, error) { return src.SystemBaseline, nil },
		fallback: "You are a thoughtful community member. Be accurate, concise, and kind.",
	},
	{
		name:     BlockPolicy,
		build:    func(src Source) (string, error) { return src.Policy, nil },
		fallback: "Follow community rules. Never post harmful, deceptive, or spammy content.",
	},
	{
		name:     BlockSoul,
		build:    func(src Source) (string, error) { return src.Soul, nil },
		fallback: "Write in a neutral, friendly voice.",
	},
	{
		name:     BlockMemory,
		build:    func(src Source) (string, error) { return src.Memory, nil },
		fallback: "No prior conversation context is available.",
	},
	{
		name:     BlockTaskContext,
		build:    func(src Source) (string, error) { return src.TaskContext, nil },
		fallback: "No additional task context was provided.",
	},
	{
		name:     BlockOutputConstraints,
		build:    func(src Source) (string, error) { return src.OutputConstraints, nil },
		fallback: "Respond with the final text only, no preamble.",
	},
}

// Build composes the six blocks in fixed order. A block whose source is
// empty falls back to its canned default and flags itself degraded; the
// build as a whole fails only when a builder itself errors.
func Build(src Source) (*Prompt, error) {
	prompt := &Prompt{Blocks: make([]Block, 0, len(blockBuilders))}
	for _, entry := range blockBuilders {
		content, err := entry.build(src)
		if err != nil {
			return nil, fmt.Errorf("%s: block %s: %w", ReasonBlockBuilderFailed, entry.name, err)
		}
		block := Block{Name: entry.name, Enabled: true}
		if strings.TrimSpace(content) == "" {
			block.Content = entry.fallback
			block.Degraded = true
			block.FallbackReason = ReasonEmptySource
		} else {
			block.Content = content
		}
		prompt.Blocks = append(prompt.Blocks, block)
	}
	return prompt, nil
}

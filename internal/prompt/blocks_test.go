package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fullSource() Source {
	return Source{
		SystemBaseline:    "You are Ada, a long-time member of the forum.",
		Policy:            "No self-promotion.",
		Soul:              "Dry wit, short sentences.",
		Memory:            "Previously discussed gardening with user bee.",
		TaskContext:       "Reply to post p-1 about tomato blight.",
		OutputConstraints: "At most two paragraphs.",
	}
}

func TestBuildFixedOrder(t *testing.T) {
	prompt, err := Build(fullSource())
	require.NoError(t, err)
	require.Len(t, prompt.Blocks, 6)

	want := []BlockName{
		BlockSystemBaseline, BlockPolicy, BlockSoul,
		BlockMemory, BlockTaskContext, BlockOutputConstraints,
	}
	for i, name := range want {
		require.Equal(t, name, prompt.Blocks[i].Name)
		require.True(t, prompt.Blocks[i].Enabled)
		require.False(t, prompt.Blocks[i].Degraded)
	}
	require.Empty(t, prompt.Degraded())
}

func TestBuildDegradesEmptyBlocks(t *testing.T) {
	src := fullSource()
	src.Soul = ""
	src.Memory = "   \n "

	prompt, err := Build(src)
	require.NoError(t, err)
	require.Equal(t, []BlockName{BlockSoul, BlockMemory}, prompt.Degraded())

	for _, block := range prompt.Blocks {
		if block.Name == BlockSoul || block.Name == BlockMemory {
			require.True(t, block.Degraded)
			require.Equal(t, ReasonEmptySource, block.FallbackReason)
			require.NotEmpty(t, block.Content, "degraded block must carry the canned default")
		}
	}
}

func TestBuildAllEmptyStillSucceeds(t *testing.T) {
	prompt, err := Build(Source{})
	require.NoError(t, err)
	require.Len(t, prompt.Degraded(), 6)
	require.NotEmpty(t, prompt.Text())
}

func TestPromptTextContainsSections(t *testing.T) {
	prompt, err := Build(fullSource())
	require.NoError(t, err)
	text := prompt.Text()
	require.Contains(t, text, "## system_baseline")
	require.Contains(t, text, "tomato blight")
	require.Contains(t, text, "## output_constraints")
}

func TestCollapseWhitespace(t *testing.T) {
	in := "hello    world\t!\n\n\n\n\nnext   paragraph\n"
	out := CollapseWhitespace(in)
	require.Equal(t, "hello world !\n\nnext paragraph", out)
}

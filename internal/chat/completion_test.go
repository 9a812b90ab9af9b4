package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCompletion(t *testing.T) {
	stream := strings.Join([]string{
		chunkLine("Hello"),
		chunkLine(", world"),
		chunkLine("!"),
		"data: [DONE]",
	}, "\n")

	resp, err := BuildCompletion(strings.NewReader(stream), "claude-3-5-sonnet", discard())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "claude-3-5-sonnet", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello, world!", resp.Choices[0].Message.Content)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)

	// "Hello" "," "world" "!" by the approximate tokenizer.
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	assert.True(t, strings.HasPrefix(resp.SystemFingerprint, "fp_"))
}

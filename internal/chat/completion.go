package chat

import (
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/go-coders/chaton2api/internal/sse"
	"github.com/go-coders/chaton2api/pkg/util"
)

// BuildCompletion drains an upstream stream and aggregates it into a
// single OpenAI completion object. Token usage is a whitespace and
// punctuation approximation, not a model tokenizer.
func BuildCompletion(body io.Reader, model string, log *slog.Logger) (*openai.ChatCompletionResponse, error) {
	content, err := sse.CollectContent(body, log)
	if err != nil {
		return nil, err
	}

	promptTokens := util.CountTokens(content)
	completionTokens := promptTokens

	return &openai.ChatCompletionResponse{
		ID:      util.CompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		SystemFingerprint: util.SystemFingerprint(),
	}, nil
}

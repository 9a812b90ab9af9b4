package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/go-coders/chaton2api/internal/sse"
	"github.com/go-coders/chaton2api/pkg/logger"
	"github.com/go-coders/chaton2api/pkg/util"
)

// ImagePlaceholderPrefix is the internal host the upstream embeds in
// image markdown. The path after it is a storage key.
const ImagePlaceholderPrefix = "https://spc.unk/"

// imageStartMarker opens an image markdown block mid-stream.
const imageStartMarker = "\n\n!["

// Resolver exchanges a storage key for a downloadable URL.
type Resolver interface {
	ResolveStorage(ctx context.Context, key string) (string, error)
}

// StreamWriter receives translated event lines. WriteLine gets a full
// SSE line without the trailing blank-line separator.
type StreamWriter interface {
	WriteLine(line string) error
}

// translatorState is the one-way stream latch: content is forwarded
// live until an image marker appears, then buffered to the end.
type translatorState int

const (
	stateStreaming translatorState = iota
	stateBuffering
)

// Translator re-emits one upstream event stream as an OpenAI-compatible
// stream, resolving embedded image references at stream end.
type Translator struct {
	resolver Resolver
	log      *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(resolver Resolver, log *slog.Logger) *Translator {
	return &Translator{resolver: resolver, log: log}
}

// Run consumes events until the terminal marker (or end of input) and
// writes the translated stream to w. Event order is preserved; deltas
// seen after the image latch are absorbed and replaced by a single
// synthetic event before the terminal marker.
func (t *Translator) Run(ctx context.Context, events *sse.Reader, w StreamWriter) error {
	state := stateStreaming
	var full strings.Builder
	created := time.Now().Unix()

	for {
		ev, err := events.Next()
		if err == io.EOF {
			// Upstream closed without [DONE]; terminate the client
			// stream anyway.
			return w.WriteLine("data: [DONE]")
		}
		if err != nil {
			return fmt.Errorf("reading upstream stream: %w", err)
		}

		switch ev.Type {
		case sse.EventControl:
			continue

		case sse.EventWebSources:
			line, err := syntheticChunk(renderSources(ev.Sources), created)
			if err != nil {
				t.log.Error("building web-sources chunk", logger.Err(err))
				continue
			}
			if err := w.WriteLine(line); err != nil {
				return err
			}

		case sse.EventContentDelta:
			full.WriteString(ev.Delta)
			if state == stateStreaming && containsImageMarker(ev.Delta) {
				state = stateBuffering
				continue
			}
			if state == stateBuffering {
				continue
			}
			if err := w.WriteLine(ev.Raw); err != nil {
				return err
			}

		case sse.EventTerminal:
			if strings.Contains(full.String(), "![Image]("+ImagePlaceholderPrefix) {
				if line, ok := t.resolveImageChunk(ctx, full.String(), created); ok {
					if err := w.WriteLine(line); err != nil {
						return err
					}
				}
			}
			return w.WriteLine("data: [DONE]")
		}
	}
}

func containsImageMarker(delta string) bool {
	return strings.Contains(delta, imageStartMarker) || strings.Contains(delta, "spc.unk")
}

// resolveImageChunk performs the two-stage lookup: markdown path
// extraction, then storage resolution. Failures are swallowed; the
// client simply receives no image event.
func (t *Translator) resolveImageChunk(ctx context.Context, content string, created int64) (string, bool) {
	path := util.ExtractMarkdownImagePath(content)
	if path == "" {
		t.log.Warn("image mode ended without a markdown path")
		return "", false
	}
	key := strings.TrimPrefix(path, ImagePlaceholderPrefix)

	url, err := t.resolver.ResolveStorage(ctx, key)
	if err != nil {
		t.log.Warn("image resolution failed", "key", key, logger.Err(err))
		return "", false
	}

	line, err := syntheticChunk("\n\n![Image]("+url+")\n", created)
	if err != nil {
		t.log.Error("building image chunk", logger.Err(err))
		return "", false
	}
	return line, true
}

func renderSources(sources []sse.Source) string {
	var sb strings.Builder
	for _, s := range sources {
		sb.WriteString("\n### ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		sb.WriteString(s.URL)
		sb.WriteString("\n")
	}
	return sb.String()
}

func syntheticChunk(content string, created int64) (string, error) {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      util.ChunkID(),
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   "gpt-4o",
		Choices: []openai.ChatCompletionStreamChoice{
			{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: content},
			},
		},
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return "", err
	}
	return "data: " + string(payload), nil
}

package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/go-coders/chaton2api/internal/chat"
	"github.com/go-coders/chaton2api/internal/sse"
	"github.com/go-coders/chaton2api/pkg/logger"
	"github.com/go-coders/chaton2api/pkg/util"
)

const (
	generationModel  = "claude-3-5-sonnet"
	aspectRatio      = "1:1"
	imageStyle       = "anime"
	promptCacheSize  = 100
	generationSystem = "You are a helpful assistant that generates images based on user prompts."
	refineSystem     = "You are a helpful assistant that refines user prompts for image generation. " +
		"Rewrite the prompt to be a single, vivid, detailed description suitable for an image model. " +
		"Reply with the refined prompt only."
)

// ErrInsufficientImages reports that the attempt budget ran out before
// the requested number of images was produced.
var ErrInsufficientImages = errors.New("imagegen: insufficient images generated")

// Client is the slice of the upstream surface the orchestrator needs.
type Client interface {
	Stream(ctx context.Context, path string, body []byte) (io.ReadCloser, error)
	ResolveStorage(ctx context.Context, key string) (string, error)
}

// generationPayload is the fixed request body for a single image. Only
// the user prompt varies between calls.
type generationPayload struct {
	FunctionImageGen  bool                   `json:"function_image_gen"`
	FunctionWebSearch bool                   `json:"function_web_search"`
	ImageAspectRatio  string                 `json:"image_aspect_ratio"`
	ImageStyle        string                 `json:"image_style"`
	MaxTokens         int                    `json:"max_tokens"`
	Messages          []chat.UpstreamMessage `json:"messages"`
	Model             string                 `json:"model"`
	Source            string                 `json:"source"`
	WebSearchEngine   string                 `json:"web_search_engine"`
}

// Orchestrator turns one prompt into n image URLs, retrying failed
// generations within a bounded attempt budget.
type Orchestrator struct {
	client  Client
	maxConc int
	cache   *promptCache
	log     *slog.Logger
}

func New(client Client, maxConcurrent int, log *slog.Logger) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		client:  client,
		maxConc: maxConcurrent,
		cache:   newPromptCache(promptCacheSize),
		log:     log,
	}
}

// Generate produces n image URLs for prompt. The total number of
// upstream generation calls never exceeds 2n; each round launches only
// as many calls as images are still missing. Individual failures are
// collected, not fatal. When the budget runs out short, the collected
// failures are returned wrapped in ErrInsufficientImages.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, n int) ([]string, error) {
	if n < 1 {
		n = 1
	}
	maxAttempts := 2 * n

	var (
		mu        sync.Mutex
		collected []string
		failures  *multierror.Error
	)
	sem := make(chan struct{}, o.maxConc)

	attempts := 0
	for attempts < maxAttempts && len(collected) < n {
		needed := n - len(collected)
		if remaining := maxAttempts - attempts; needed > remaining {
			needed = remaining
		}

		var wg sync.WaitGroup
		for i := 0; i < needed; i++ {
			attempts++
			wg.Add(1)
			go func(attempt int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				url, err := o.generateOne(ctx, prompt)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					o.log.Warn("image generation attempt failed", "attempt", attempt, logger.Err(err))
					failures = multierror.Append(failures, fmt.Errorf("attempt %d: %w", attempt, err))
					return
				}
				collected = append(collected, url)
			}(attempts)
		}
		wg.Wait()
	}

	if len(collected) < n {
		return collected, fmt.Errorf("%w: got %d of %d: %v", ErrInsufficientImages, len(collected), n, failures.ErrorOrNil())
	}
	return collected[:n], nil
}

func (o *Orchestrator) generateOne(ctx context.Context, prompt string) (string, error) {
	payload := generationPayload{
		FunctionImageGen: true,
		ImageAspectRatio: aspectRatio,
		ImageStyle:       imageStyle,
		MaxTokens:        8000,
		Messages: []chat.UpstreamMessage{
			{Role: "system", Content: generationSystem},
			{Role: "user", Content: "Draw: " + prompt},
		},
		Model:           generationModel,
		Source:          chat.SourceProImage,
		WebSearchEngine: "auto",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generation payload: %w", err)
	}

	stream, err := o.client.Stream(ctx, chat.StreamPath, body)
	if err != nil {
		return "", err
	}
	content, err := sse.CollectContent(stream, o.log)
	stream.Close()
	if err != nil {
		return "", fmt.Errorf("read generation stream: %w", err)
	}

	path := util.ExtractMarkdownImagePath(content)
	if path == "" {
		return "", errors.New("no image reference in generation response")
	}
	key := strings.TrimPrefix(path, chat.ImagePlaceholderPrefix)
	url, err := o.client.ResolveStorage(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve storage key %q: %w", key, err)
	}
	return url, nil
}

// RefinePrompt rewrites a raw user prompt through the upstream chat
// model. Results are cached per raw prompt. Any failure falls back to
// the raw prompt so generation can still proceed.
func (o *Orchestrator) RefinePrompt(ctx context.Context, prompt string) string {
	if cached, ok := o.cache.Get(prompt); ok {
		return cached
	}

	payload := chat.Payload{
		MaxTokens:         8000,
		FunctionImageGen:  true,
		FunctionWebSearch: true,
		WebSearchEngine:   "auto",
		Model:             generationModel,
		Source:            chat.SourceFree,
		Messages: []chat.UpstreamMessage{
			{Role: "system", Content: refineSystem},
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn("marshal refine payload", logger.Err(err))
		return prompt
	}

	stream, err := o.client.Stream(ctx, chat.StreamPath, body)
	if err != nil {
		o.log.Warn("prompt refinement failed, using raw prompt", logger.Err(err))
		return prompt
	}
	content, err := sse.CollectContent(stream, o.log)
	stream.Close()
	if err != nil {
		o.log.Warn("prompt refinement stream failed, using raw prompt", logger.Err(err))
		return prompt
	}
	refined := strings.TrimSpace(content)
	if refined == "" {
		return prompt
	}
	o.cache.Put(prompt, refined)
	return refined
}

// PadCyclic extends urls to length n by repeating elements in order.
// An empty input is returned unchanged.
func PadCyclic(urls []string, n int) []string {
	if len(urls) == 0 || len(urls) >= n {
		return urls
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, urls[i%len(urls)])
	}
	return out
}

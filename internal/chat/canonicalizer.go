package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-coders/chaton2api/pkg/logger"
	"github.com/go-coders/chaton2api/pkg/util"
)

// ErrEmptyConversation is returned when every message normalizes to
// nothing. No upstream call is made in that case.
var ErrEmptyConversation = errors.New("conversation has no usable messages")

// WebSearchDisclaimer is prepended once to system messages.
const WebSearchDisclaimer = "This dialog contains a call to the web search function. Use it only when you need to get up-to-date data or data that is not in your training database."

// Uploader stores inline image bytes and returns a storage URL.
type Uploader interface {
	UploadImage(ctx context.Context, dataURI string) (string, error)
}

// Summarizer fetches a text summary of a web page.
type Summarizer interface {
	FetchURLSummary(ctx context.Context, rawURL string) (string, error)
}

// Canonicalizer turns an inbound chat request into the canonical
// upstream payload.
type Canonicalizer struct {
	uploads          Uploader
	pages            Summarizer
	defaultMaxTokens int
	log              *slog.Logger
}

// NewCanonicalizer creates a Canonicalizer.
func NewCanonicalizer(uploads Uploader, pages Summarizer, defaultMaxTokens int, log *slog.Logger) *Canonicalizer {
	return &Canonicalizer{
		uploads:          uploads,
		pages:            pages,
		defaultMaxTokens: defaultMaxTokens,
		log:              log,
	}
}

// Canonicalize builds the upstream payload. It drops messages that
// normalize to nothing, uploads inline images, dereferences the first
// public URL in user messages, and normalizes the model name.
func (c *Canonicalizer) Canonicalize(ctx context.Context, req *ChatCompletionRequest) (*Payload, error) {
	hasImage := false
	hasURL := false

	messages := make([]UpstreamMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := strings.ToLower(m.Role)

		content, images, ok := c.normalizeContent(ctx, m.Content)
		if !ok {
			continue
		}
		if len(images) > 0 {
			hasImage = true
		}

		if role == "system" && !strings.Contains(content, WebSearchDisclaimer) {
			content = WebSearchDisclaimer + "\n" + content
		}

		if role == "user" {
			if appended, fetched := c.dereferenceURL(ctx, content); fetched {
				content = appended
				hasURL = true
			}
		}

		messages = append(messages, UpstreamMessage{
			Role:    role,
			Content: content,
			Images:  images,
		})
	}

	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaultMaxTokens
	}

	source := SourceFree
	if hasImage {
		source = SourceImageUpload
	}

	return &Payload{
		MaxTokens:         maxTokens,
		FunctionImageGen:  true,
		FunctionWebSearch: !hasURL,
		WebSearchEngine:   "auto",
		Model:             NormalizeModel(req.Model),
		Source:            source,
		Messages:          messages,
	}, nil
}

// normalizeContent flattens a content union into a scalar string plus
// resolved image references. ok is false when the message should be
// dropped.
func (c *Canonicalizer) normalizeContent(ctx context.Context, raw json.RawMessage) (string, []ImageRef, bool) {
	if len(raw) == 0 {
		return "", nil, false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if asString == "" {
			return "", nil, false
		}
		return asString, nil, true
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		// Neither string nor part list.
		return "", nil, false
	}

	var sb strings.Builder
	var images []ImageRef
	for i, p := range parts {
		switch {
		case p.Type == "text":
			sb.WriteString(p.Text)
			if i < len(parts)-1 {
				sb.WriteString(" ")
			}
		case p.Type == "image_url" && p.ImageURL != nil:
			resolved, err := c.resolveImage(ctx, p.ImageURL.URL)
			if err != nil {
				c.log.Warn("dropping unresolvable image part", logger.Err(err))
				continue
			}
			images = append(images, ImageRef{Data: resolved})
		}
	}

	content := strings.TrimSpace(sb.String())
	if content == "" && len(images) == 0 {
		return "", nil, false
	}
	return content, images, true
}

func (c *Canonicalizer) resolveImage(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "data:image/") {
		return c.uploads.UploadImage(ctx, url)
	}
	return url, nil
}

// dereferenceURL extracts the first URL of a user message and, when it
// points at a public address, appends the upstream's summary of the
// page. Loopback, private and link-local targets are ignored.
func (c *Canonicalizer) dereferenceURL(ctx context.Context, content string) (string, bool) {
	if !strings.Contains(content, "http://") && !strings.Contains(content, "https://") {
		return content, false
	}
	rawURL := util.ExtractURL(content)
	if rawURL == "" || !util.IsPublicURL(rawURL) {
		return content, false
	}

	summary, err := c.pages.FetchURLSummary(ctx, rawURL)
	if err != nil {
		c.log.Warn("url fetch failed", "url", rawURL, logger.Err(err))
		return content, false
	}
	return content + "\n\n" + summary, true
}

// NormalizeModel lower-cases a model name and maps legacy aliases. Every
// gpt variant collapses to gpt-4o. Normalization is idempotent.
func NormalizeModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return "gpt-4o"
	case m == "claude-3.5-sonnet":
		return "claude-3-5-sonnet"
	case m == "gpt 4o":
		return "gpt-4o"
	case strings.HasPrefix(m, "gpt"):
		return "gpt-4o"
	default:
		return m
	}
}

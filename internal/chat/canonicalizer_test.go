package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUploader struct {
	calls int
	url   string
	err   error
}

func (f *fakeUploader) UploadImage(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.url, f.err
}

type fakeSummarizer struct {
	calls   int
	summary string
	err     error
}

func (f *fakeSummarizer) FetchURLSummary(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.summary, f.err
}

func newTestCanonicalizer(u *fakeUploader, s *fakeSummarizer) *Canonicalizer {
	return NewCanonicalizer(u, s, 8000, discard())
}

func stringContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestCanonicalize_EmptyConversation(t *testing.T) {
	uploads := &fakeUploader{}
	pages := &fakeSummarizer{}
	c := newTestCanonicalizer(uploads, pages)

	req := &ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: "user", Content: stringContent("   ")},
			{Role: "user", Content: json.RawMessage(`42`)},
			{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"  "}]`)},
			{Role: "user"},
		},
	}

	_, err := c.Canonicalize(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmptyConversation)
	assert.Zero(t, uploads.calls, "no upstream call before validation")
	assert.Zero(t, pages.calls)
}

func TestCanonicalize_PlainMessages(t *testing.T) {
	c := newTestCanonicalizer(&fakeUploader{}, &fakeSummarizer{})

	req := &ChatCompletionRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 512,
		Messages: []Message{
			{Role: "SYSTEM", Content: stringContent("be brief")},
			{Role: "user", Content: stringContent("  hello  ")},
		},
	}

	p, err := c.Canonicalize(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, p.Messages, 2)
	assert.Equal(t, "system", p.Messages[0].Role)
	assert.Equal(t, WebSearchDisclaimer+"\nbe brief", p.Messages[0].Content)
	assert.Equal(t, "hello", p.Messages[1].Content)
	assert.Equal(t, 512, p.MaxTokens)
	assert.Equal(t, "claude-3-5-sonnet", p.Model)
	assert.Equal(t, SourceFree, p.Source)
	assert.True(t, p.FunctionImageGen)
	assert.True(t, p.FunctionWebSearch)
	assert.Equal(t, "auto", p.WebSearchEngine)
}

func TestCanonicalize_DisclaimerIdempotent(t *testing.T) {
	c := newTestCanonicalizer(&fakeUploader{}, &fakeSummarizer{})

	req := &ChatCompletionRequest{
		Messages: []Message{
			{Role: "system", Content: stringContent(WebSearchDisclaimer + "\nalready here")},
		},
	}

	p, err := c.Canonicalize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, WebSearchDisclaimer+"\nalready here", p.Messages[0].Content)
}

func TestCanonicalize_Parts(t *testing.T) {
	uploads := &fakeUploader{url: "https://storage/up.jpg"}
	c := newTestCanonicalizer(uploads, &fakeSummarizer{})

	content := `[
		{"type":"text","text":"look at"},
		{"type":"text","text":"this"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,aGk="}},
		{"type":"image_url","image_url":{"url":"https://cdn.example.com/pic.jpg"}}
	]`
	req := &ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: json.RawMessage(content)}},
	}

	p, err := c.Canonicalize(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, p.Messages, 1)
	assert.Equal(t, "look at this", p.Messages[0].Content)
	require.Len(t, p.Messages[0].Images, 2)
	assert.Equal(t, "https://storage/up.jpg", p.Messages[0].Images[0].Data)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", p.Messages[0].Images[1].Data)
	assert.Equal(t, 1, uploads.calls, "only the data URI is uploaded")
	assert.Equal(t, SourceImageUpload, p.Source)
	assert.Equal(t, 8000, p.MaxTokens, "default applies when unset")
}

func TestCanonicalize_ImageOnlyMessageKept(t *testing.T) {
	uploads := &fakeUploader{url: "https://storage/only.jpg"}
	c := newTestCanonicalizer(uploads, &fakeSummarizer{})

	req := &ChatCompletionRequest{
		Messages: []Message{
			{Role: "user", Content: json.RawMessage(`[{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,aGk="}}]`)},
		},
	}

	p, err := c.Canonicalize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, p.Messages, 1)
	assert.Empty(t, p.Messages[0].Content)
	require.Len(t, p.Messages[0].Images, 1)
}

func TestCanonicalize_URLDereference(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		summary     string
		fetchErr    error
		wantFetches int
		wantSearch  bool
		wantContent string
	}{
		{
			name:        "public url appended",
			text:        "summarize http://93.184.216.34/page please",
			summary:     "a summary",
			wantFetches: 1,
			wantSearch:  false,
			wantContent: "summarize http://93.184.216.34/page please\n\na summary",
		},
		{
			name:        "private url ignored",
			text:        "summarize http://10.0.0.5/secret please",
			wantFetches: 0,
			wantSearch:  true,
			wantContent: "summarize http://10.0.0.5/secret please",
		},
		{
			name:        "loopback ignored",
			text:        "see http://127.0.0.1/x",
			wantFetches: 0,
			wantSearch:  true,
			wantContent: "see http://127.0.0.1/x",
		},
		{
			name:        "fetch failure leaves message intact",
			text:        "see http://93.184.216.34/x",
			fetchErr:    fmt.Errorf("boom"),
			wantFetches: 1,
			wantSearch:  true,
			wantContent: "see http://93.184.216.34/x",
		},
		{
			name:        "no url at all",
			text:        "just words",
			wantFetches: 0,
			wantSearch:  true,
			wantContent: "just words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := &fakeSummarizer{summary: tt.summary, err: tt.fetchErr}
			c := newTestCanonicalizer(&fakeUploader{}, pages)

			req := &ChatCompletionRequest{
				Messages: []Message{{Role: "user", Content: stringContent(tt.text)}},
			}
			p, err := c.Canonicalize(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFetches, pages.calls)
			assert.Equal(t, tt.wantSearch, p.FunctionWebSearch)
			assert.Equal(t, tt.wantContent, p.Messages[0].Content)
		})
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gpt 4o", "gpt-4o"},
		{"GPT 4O", "gpt-4o"},
		{"claude-3.5-sonnet", "claude-3-5-sonnet"},
		{"claude-3-5-sonnet", "claude-3-5-sonnet"},
		{"gpt-3.5-turbo", "gpt-4o"},
		{"GPT-4o-mini", "gpt-4o"},
		{"deepseek-r1", "deepseek-r1"},
		{"", "gpt-4o"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeModel(tt.in), tt.in)
		// Idempotence: a second pass is a no-op.
		assert.Equal(t, tt.want, NormalizeModel(NormalizeModel(tt.in)), tt.in)
	}
}

package chat

import "encoding/json"

// ChatCompletionRequest is the inbound OpenAI-shaped chat request. The
// content union (plain string or typed part list) keeps these types
// hand-rolled instead of go-openai's.
type ChatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

// Message is one inbound message; Content is decoded lazily.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of a typed content list.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

// ImageRef wraps one resolved image URL in the upstream's shape.
type ImageRef struct {
	Data string `json:"data"`
}

// UpstreamMessage is one message of the canonical upstream payload.
type UpstreamMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Images  []ImageRef `json:"images,omitempty"`
}

// Payload is the canonical upstream chat payload.
type Payload struct {
	MaxTokens         int               `json:"max_tokens"`
	FunctionImageGen  bool              `json:"function_image_gen"`
	FunctionWebSearch bool              `json:"function_web_search"`
	WebSearchEngine   string            `json:"web_search_engine"`
	Model             string            `json:"model"`
	Source            string            `json:"source"`
	Messages          []UpstreamMessage `json:"messages"`
}

// Upstream source values.
const (
	SourceFree        = "chat/free"
	SourceImageUpload = "chat/image_upload"
	SourceProImage    = "chat/pro_image"
)

// StreamPath is the upstream chat-stream endpoint.
const StreamPath = "/chats/stream"

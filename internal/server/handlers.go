package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-coders/chaton2api/internal/chat"
	"github.com/go-coders/chaton2api/internal/sse"
	"github.com/go-coders/chaton2api/pkg/logger"
)

const (
	streamRetryAttempts = 3
	streamRetryBackoff  = 500 * time.Millisecond
	speechPath          = "/audio/speech"
)

func (s *Server) handleWelcome(c *gin.Context) {
	const page = `<html><head><title>API Gateway</title></head><body>` +
		`<h1>API Gateway</h1>` +
		`<p>OpenAI-compatible endpoints for chat, image generation and speech.</p>` +
		`</body></html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func (s *Server) handleModels(c *gin.Context) {
	type model struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	ids := []string{
		"gpt-4o", "gpt-4o-mini", "claude", "claude-3-haiku",
		"claude-3-5-sonnet", "claude-3-7-sonnet", "sonar-reasoning-pro", "deepseek-r1",
	}
	data := make([]model, 0, len(ids))
	for _, id := range ids {
		data = append(data, model{ID: id, Object: "model"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chat.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "malformed request body", err))
		return
	}

	payload, err := s.canon.Canonicalize(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyConversation) {
			s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "no usable messages", err))
			return
		}
		s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "request preparation failed", err))
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.abortError(c, http.StatusInternalServerError, NewError(ErrInvalidRequest, "encoding payload", err))
		return
	}

	if req.Stream {
		s.streamCompletion(c, body)
		return
	}
	s.completeOnce(c, body, payload.Model)
}

// streamCompletion opens the upstream stream, retrying connection
// failures a fixed number of times before giving up. Once bytes start
// flowing no retry happens; a broken stream is terminated in place.
func (s *Server) streamCompletion(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	var stream io.ReadCloser
	var err error
	for attempt := 1; attempt <= streamRetryAttempts; attempt++ {
		stream, err = s.upstream.Stream(ctx, chat.StreamPath, body)
		if err == nil {
			break
		}
		s.log.Warn("upstream stream connect failed", "attempt", attempt, logger.Err(err))
		if attempt == streamRetryAttempts {
			break
		}
		select {
		case <-time.After(streamRetryBackoff):
		case <-ctx.Done():
			s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "client disconnected", ctx.Err()))
			return
		}
	}
	if err != nil {
		s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "upstream unavailable", err))
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	w := &sseWriter{w: c.Writer}
	if err := s.translator.Run(ctx, sse.NewReader(stream, s.log), w); err != nil {
		// Headers are already out; all we can do is stop.
		s.log.Warn("stream translation aborted", logger.Err(err))
	}
}

func (s *Server) completeOnce(c *gin.Context, body []byte, model string) {
	stream, err := s.upstream.Stream(c.Request.Context(), chat.StreamPath, body)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "upstream unavailable", err))
		return
	}
	defer stream.Close()

	resp, err := chat.BuildCompletion(stream, model, s.log)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "reading upstream response", err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// sseWriter flushes after every event so deltas reach the client as
// they arrive.
type sseWriter struct {
	w gin.ResponseWriter
}

func (s *sseWriter) WriteLine(line string) error {
	if _, err := io.WriteString(s.w, line+"\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

type imageGenerationRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageDatum struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

func (s *Server) handleImageGenerations(c *gin.Context) {
	var req imageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "malformed request body", err))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "prompt must not be empty", nil))
		return
	}
	n := req.N
	if n < 1 {
		n = 1
	}

	ctx := c.Request.Context()
	refined := s.images.RefinePrompt(ctx, prompt)
	urls, err := s.images.Generate(ctx, refined, n)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, NewError(ErrImageGeneration, "unable to generate enough images", err))
		return
	}

	var data []imageDatum
	if strings.EqualFold(req.ResponseFormat, "b64_json") {
		data = s.downloadAsBase64(c, urls, n)
		if data == nil {
			return
		}
	} else {
		data = make([]imageDatum, 0, len(urls))
		for _, u := range urls {
			data = append(data, imageDatum{URL: u})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"created": time.Now().Unix(),
		"data":    data,
	})
}

// downloadAsBase64 fetches every URL concurrently and encodes the
// results. Failed downloads are dropped and the remainder repeated
// cyclically back up to n entries. Returns nil after writing an error
// response when nothing could be downloaded.
func (s *Server) downloadAsBase64(c *gin.Context, urls []string, n int) []imageDatum {
	encoded := make([]string, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			raw, err := s.upstream.Download(c.Request.Context(), u)
			if err != nil {
				s.log.Warn("image download failed", "url", u, logger.Err(err))
				return
			}
			encoded[i] = base64.StdEncoding.EncodeToString(raw)
		}(i, u)
	}
	wg.Wait()

	ok := make([]string, 0, len(encoded))
	for _, e := range encoded {
		if e != "" {
			ok = append(ok, e)
		}
	}
	if len(ok) == 0 {
		s.abortError(c, http.StatusBadGateway, NewError(ErrImageGeneration, "downloading generated images failed", nil))
		return nil
	}

	data := make([]imageDatum, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, imageDatum{B64JSON: ok[i%len(ok)]})
	}
	return data
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
	Speed          any    `json:"speed"`
	Stream         *bool  `json:"stream"`
}

type speechPayload struct {
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	Speed          int    `json:"speed"`
	Stream         *bool  `json:"stream,omitempty"`
}

func (s *Server) handleSpeech(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "malformed request body", err))
		return
	}
	if req.Input == "" {
		s.abortError(c, http.StatusBadRequest, NewError(ErrInvalidRequest, "input must not be empty", nil))
		return
	}

	payload := speechPayload{
		Input:          req.Input,
		ResponseFormat: req.ResponseFormat,
		Voice:          req.Voice,
		Model:          req.Model,
		Speed:          coerceSpeed(req.Speed),
		Stream:         req.Stream,
	}
	if payload.ResponseFormat == "" {
		payload.ResponseFormat = "mp3"
	}
	if payload.Voice == "" {
		payload.Voice = "nova"
	}
	if !strings.HasPrefix(payload.Model, "tts-1") {
		payload.Model = "tts-1-hd"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.abortError(c, http.StatusInternalServerError, NewError(ErrInvalidRequest, "encoding payload", err))
		return
	}

	audio, err := s.upstream.Stream(c.Request.Context(), speechPath, body)
	if err != nil {
		s.abortError(c, http.StatusBadGateway, NewError(ErrUpstream, "speech synthesis failed", err))
		return
	}
	defer audio.Close()

	c.Header("Content-Type", "audio/mpeg")
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Disposition", `attachment; filename="output.mp3"`)
	c.Status(http.StatusOK)

	// Small buffer keeps playback latency low.
	buf := make([]byte, 1024)
	for {
		nr, rerr := audio.Read(buf)
		if nr > 0 {
			if _, werr := c.Writer.Write(buf[:nr]); werr != nil {
				s.log.Warn("client dropped audio stream", logger.Err(werr))
				return
			}
			c.Writer.Flush()
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			s.log.Warn("reading speech stream", logger.Err(rerr))
			return
		}
	}
}

// coerceSpeed accepts a JSON number or numeric string, defaulting to 1.
func coerceSpeed(v any) int {
	switch x := v.(type) {
	case nil:
		return 1
	case float64:
		return int(x)
	case string:
		if i, err := strconv.Atoi(x); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return int(f)
		}
	}
	return 1
}

func (s *Server) abortError(c *gin.Context, status int, err *Error) {
	s.log.Warn("request failed", "path", c.FullPath(), "status", status, logger.Err(err))
	c.AbortWithStatusJSON(status, gin.H{"error": err.Message})
}

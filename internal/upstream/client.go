package upstream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-coders/chaton2api/internal/auth"
	"github.com/go-coders/chaton2api/internal/config"
)

// Doer abstracts the HTTP client for testing.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusError reports a non-success upstream HTTP status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Client is the signed HTTP client for the upstream API. Every request
// is signed immediately before transport; tokens are never reused.
type Client struct {
	http     Doer
	signer   *auth.Signer
	baseURL  string
	ua       string
	timeZone string
	log      *slog.Logger
}

// New builds a Client from process configuration. The proxy, when
// present, comes from the standard proxy environment variables.
func New(cfg *config.Config, signer *auth.Signer, log *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.UpstreamTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.UpstreamTimeout,
		TLSHandshakeTimeout:   cfg.UpstreamTimeout,
	}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	// No overall client timeout: it would cut off long event streams.
	return NewWithDoer(&http.Client{Transport: transport}, signer, cfg, log)
}

// NewWithDoer builds a Client over an explicit Doer.
func NewWithDoer(doer Doer, signer *auth.Signer, cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		http:     doer,
		signer:   signer,
		baseURL:  strings.TrimSuffix(cfg.UpstreamBaseURL, "/"),
		ua:       cfg.ClientUA,
		timeZone: cfg.ClientTimeZone,
		log:      log,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body, signBody []byte, contentType string) (*http.Request, error) {
	date := auth.FormattedDate()
	token, err := c.signer.Sign(method, path, signBody, date)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Date", date)
	req.Header.Set("Client-time-zone", c.timeZone)
	req.Header.Set("Authorization", token)
	req.Header.Set("User-Agent", "ChatOn_Android/"+c.ua)
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("X-Cl-Options", "hb")
	// Set explicitly, so decompression is ours to do.
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "Keep-Alive")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// Send issues one signed request and returns the raw response.
func (c *Client) Send(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	return c.send(ctx, method, path, body, body, contentType)
}

// send allows the signed material to differ from the transmitted body;
// storage uploads are signed over an empty body.
func (c *Client) send(ctx context.Context, method, path string, body, signBody []byte, contentType string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body, signBody, contentType)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	return resp, nil
}

// Stream issues a signed POST and returns the decompressed body for
// event-stream consumption. Non-success statuses are returned as
// *StatusError.
func (c *Client) Stream(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	resp, err := c.Send(ctx, http.MethodPost, path, body, "application/json; charset=UTF-8")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return decompressed(resp)
}

// ResolveStorage exchanges a storage key for its downloadable URL.
func (c *Client) ResolveStorage(ctx context.Context, key string) (string, error) {
	path := "/storage/" + key
	resp, err := c.Send(ctx, http.MethodGet, path, nil, "application/json; charset=UTF-8")
	if err != nil {
		return "", err
	}
	body, err := readAll(resp)
	if err != nil {
		return "", fmt.Errorf("reading storage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		GetURL string `json:"getUrl"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing storage response: %w", err)
	}
	if parsed.GetURL == "" {
		return "", fmt.Errorf("storage response for %s has no getUrl", key)
	}
	return parsed.GetURL, nil
}

// FetchURLSummary asks the upstream to fetch and summarize a web page.
// The summary arrives as an event stream of content_delta records.
func (c *Client) FetchURLSummary(ctx context.Context, rawURL string) (string, error) {
	path := "/urls/" + base64.StdEncoding.EncodeToString([]byte(rawURL))
	resp, err := c.Send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return "", &StatusError{StatusCode: resp.StatusCode}
	}
	stream, err := decompressed(resp)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(line[len("data: "):])
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var rec struct {
			Data struct {
				ContentDelta string `json:"content_delta"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			c.log.Warn("skipping unparseable url-fetch line", "err", err)
			continue
		}
		sb.WriteString(rec.Data.ContentDelta)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading url-fetch stream: %w", err)
	}
	return sb.String(), nil
}

// Download fetches an already-resolved absolute URL without signing.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	body, err := readAll(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return body, nil
}

type gzipBody struct {
	gz   *gzip.Reader
	orig io.Closer
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipBody) Close() error {
	g.gz.Close()
	return g.orig.Close()
}

func decompressed(resp *http.Response) (io.ReadCloser, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp.Body, nil
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("opening gzip body: %w", err)
	}
	return &gzipBody{gz: gz, orig: resp.Body}, nil
}

func readAll(resp *http.Response) ([]byte, error) {
	r, err := decompressed(resp)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

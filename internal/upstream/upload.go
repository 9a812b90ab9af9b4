package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// extensionForDataURI maps a data URI's declared MIME type to a file
// extension. Unknown types fall back to jpg.
func extensionForDataURI(dataURI string) string {
	switch {
	case strings.HasPrefix(dataURI, "data:image/png"):
		return "png"
	case strings.HasPrefix(dataURI, "data:image/jpeg"), strings.HasPrefix(dataURI, "data:image/jpg"):
		return "jpg"
	case strings.HasPrefix(dataURI, "data:image/gif"):
		return "gif"
	case strings.HasPrefix(dataURI, "data:image/webp"):
		return "webp"
	default:
		return "jpg"
	}
}

// UploadImage decodes a base64 data URI and uploads the bytes to the
// storage endpoint, returning the storage URL.
func (c *Client) UploadImage(ctx context.Context, dataURI string) (string, error) {
	idx := strings.Index(dataURI, "base64,")
	if idx < 0 {
		return "", fmt.Errorf("image data URI has no base64 payload")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURI[idx+len("base64,"):])
	if err != nil {
		return "", fmt.Errorf("decoding image data URI: %w", err)
	}

	ext := extensionForDataURI(dataURI)
	filename := strconv.FormatInt(time.Now().UnixMilli(), 10) + "." + ext
	// The wire content type for jpg files is image/jpeg.
	mimeExt := ext
	if mimeExt == "jpg" {
		mimeExt = "jpeg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	hdr.Set("Content-Type", "image/"+mimeExt)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return "", fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/storage/upload", buf.Bytes(), nil, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	body, err := readAll(resp)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	var parsed struct {
		GetURL string `json:"getUrl"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing upload response: %w", err)
	}
	if parsed.GetURL == "" {
		return "", fmt.Errorf("upload response has no getUrl")
	}
	c.log.Debug("image uploaded", "url", parsed.GetURL)
	return parsed.GetURL, nil
}

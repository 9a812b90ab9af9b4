package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var markdownImageRe = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)

// ExtractMarkdownImagePath returns the target of the first markdown image
// reference in text, or "" when there is none.
func ExtractMarkdownImagePath(text string) string {
	m := markdownImageRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

const tokenPunctuation = `.,!?;:()"'`

// CountTokens approximates a token count by splitting on whitespace and
// counting punctuation characters as separate tokens. It is not a model
// tokenizer.
func CountTokens(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		run := 0
		for _, r := range field {
			if strings.ContainsRune(tokenPunctuation, r) {
				if run > 0 {
					count++
					run = 0
				}
				count++
			} else {
				run++
			}
		}
		if run > 0 {
			count++
		}
	}
	return count
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ChunkID returns an identifier for a streamed completion chunk.
func ChunkID() string {
	return hexID()[:24]
}

// CompletionID returns an identifier for a full completion object.
func CompletionID() string {
	return "chatcmpl-" + hexID()
}

// SystemFingerprint returns a fingerprint value for completion responses.
func SystemFingerprint() string {
	return "fp_" + hexID()[:12]
}

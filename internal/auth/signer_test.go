package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner_MissingKeys(t *testing.T) {
	tests := []struct {
		name string
		keyA string
		keyB string
	}{
		{"both empty", "", ""},
		{"missing key id", "", "secret"},
		{"missing secret", "id", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.keyA, tt.keyB)
			assert.ErrorIs(t, err, ErrMissingKeys)
		})
	}
}

func TestSigner_Deterministic(t *testing.T) {
	s, err := NewSigner("key-id", "key-secret")
	require.NoError(t, err)

	body := []byte(`{"messages":[]}`)
	date := "2025-03-01T12:00:00Z"

	tok1, err := s.Sign("POST", "/chats/stream", body, date)
	require.NoError(t, err)
	tok2, err := s.Sign("POST", "/chats/stream", body, date)
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2, "identical input must produce identical tokens")
	assert.True(t, strings.HasPrefix(tok1, "Bearer "))

	parts := strings.SplitN(strings.TrimPrefix(tok1, "Bearer "), ".", 2)
	require.Len(t, parts, 2)
	assert.NotEmpty(t, parts[0])
	assert.NotEmpty(t, parts[1])
}

func TestSigner_TimestampChangesToken(t *testing.T) {
	s, err := NewSigner("key-id", "key-secret")
	require.NoError(t, err)

	body := []byte(`{}`)
	tok1, err := s.Sign("POST", "/chats/stream", body, "2025-03-01T12:00:00Z")
	require.NoError(t, err)
	tok2, err := s.Sign("POST", "/chats/stream", body, "2025-03-01T12:00:01Z")
	require.NoError(t, err)

	assert.NotEqual(t, tok1, tok2)
}

func TestSigner_InputsChangeSignature(t *testing.T) {
	s, err := NewSigner("key-id", "key-secret")
	require.NoError(t, err)

	date := "2025-03-01T12:00:00Z"
	base, err := s.Sign("POST", "/chats/stream", []byte("a"), date)
	require.NoError(t, err)

	otherMethod, _ := s.Sign("GET", "/chats/stream", []byte("a"), date)
	otherPath, _ := s.Sign("POST", "/storage/upload", []byte("a"), date)
	otherBody, _ := s.Sign("POST", "/chats/stream", []byte("b"), date)

	assert.NotEqual(t, base, otherMethod)
	assert.NotEqual(t, base, otherPath)
	assert.NotEqual(t, base, otherBody)
}

func TestFormattedDate_Shape(t *testing.T) {
	date := FormattedDate()
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, date)
}

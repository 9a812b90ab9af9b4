package sse

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chunk(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}`
}

func TestReader_Classification(t *testing.T) {
	stream := strings.Join([]string{
		": comment line is ignored",
		"",
		"data: ",
		`data: {"ping":{}}`,
		`data: {"data":{"analytics":{"event":"x"}}}`,
		`data: {"data":{"operation":"op","message":"msg"}}`,
		`data: {"data":{"web":{"sources":[{"title":"T1","url":"https://a"},{"title":"T2","url":"https://b"}]}}}`,
		chunk("hello"),
		"data: not-json",
		chunk(" world"),
		"data: [DONE]",
	}, "\n")

	r := NewReader(strings.NewReader(stream), discard())

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventControl, ev.Type)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventControl, ev.Type)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventControl, ev.Type)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventWebSources, ev.Type)
	require.Len(t, ev.Sources, 2)
	assert.Equal(t, "T1", ev.Sources[0].Title)
	assert.Equal(t, "https://b", ev.Sources[1].URL)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventContentDelta, ev.Type)
	assert.Equal(t, "hello", ev.Delta)
	assert.Equal(t, chunk("hello"), ev.Raw)

	// The unparseable line is skipped, not surfaced.
	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventContentDelta, ev.Type)
	assert.Equal(t, " world", ev.Delta)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventTerminal, ev.Type)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_EOFWithoutTerminal(t *testing.T) {
	r := NewReader(strings.NewReader(chunk("partial")+"\n"), discard())

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", ev.Delta)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCollectContent(t *testing.T) {
	stream := strings.Join([]string{
		chunk("a"),
		`data: {"ping":{}}`,
		chunk("b"),
		chunk("c"),
		"data: [DONE]",
		chunk("after terminal is never read"),
	}, "\n")

	got, err := CollectContent(strings.NewReader(stream), discard())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestCollectContent_EmptyStream(t *testing.T) {
	got, err := CollectContent(strings.NewReader(""), discard())
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

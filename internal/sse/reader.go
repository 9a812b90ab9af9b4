package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// EventType classifies one parsed upstream stream record.
type EventType int

const (
	// EventContentDelta carries an incremental piece of assistant output.
	EventContentDelta EventType = iota
	// EventWebSources carries web search results.
	EventWebSources
	// EventControl is upstream noise (pings, analytics, operation
	// notices, unrecognized records). Consumers drop it.
	EventControl
	// EventTerminal is the [DONE] marker.
	EventTerminal
)

// Source is one web search result.
type Source struct {
	Title string
	URL   string
}

// Event is a parsed upstream SSE record. Raw holds the original line as
// it arrived, so pass-through consumers can forward it unchanged.
type Event struct {
	Type    EventType
	Raw     string
	Delta   string
	Sources []Source
}

// Reader iterates over the events of one upstream stream. It is a plain
// synchronous iterator so stream consumers can be tested against any
// io.Reader.
type Reader struct {
	sc  *bufio.Scanner
	log *slog.Logger
}

// NewReader wraps an upstream response body.
func NewReader(r io.Reader, log *slog.Logger) *Reader {
	sc := bufio.NewScanner(r)
	// Single deltas can carry long markdown payloads.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc, log: log}
}

type record struct {
	Ping *json.RawMessage `json:"ping"`
	Data *struct {
		Analytics json.RawMessage `json:"analytics"`
		Operation json.RawMessage `json:"operation"`
		Message   json.RawMessage `json:"message"`
		Web       *struct {
			Sources []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"sources"`
		} `json:"web"`
	} `json:"data"`
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Next returns the next event. It skips lines that are not event data and
// lines that fail to parse; it returns io.EOF when the stream ends
// without a terminal marker.
func (r *Reader) Next() (Event, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(line[len("data: "):])
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Event{Type: EventTerminal, Raw: line}, nil
		}

		var rec record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			r.log.Warn("skipping unparseable stream line", "err", err)
			continue
		}

		return classify(line, &rec), nil
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func classify(line string, rec *record) Event {
	if rec.Ping != nil {
		return Event{Type: EventControl, Raw: line}
	}
	if d := rec.Data; d != nil {
		if d.Analytics != nil {
			return Event{Type: EventControl, Raw: line}
		}
		if d.Operation != nil && d.Message != nil {
			return Event{Type: EventControl, Raw: line}
		}
		if d.Web != nil && len(d.Web.Sources) > 0 {
			sources := make([]Source, 0, len(d.Web.Sources))
			for _, s := range d.Web.Sources {
				sources = append(sources, Source{Title: s.Title, URL: s.URL})
			}
			return Event{Type: EventWebSources, Raw: line, Sources: sources}
		}
	}
	if len(rec.Choices) > 0 {
		var delta strings.Builder
		found := false
		for _, c := range rec.Choices {
			if c.Delta.Content != nil {
				delta.WriteString(*c.Delta.Content)
				found = true
			}
		}
		if found {
			return Event{Type: EventContentDelta, Raw: line, Delta: delta.String()}
		}
	}
	return Event{Type: EventControl, Raw: line}
}

// CollectContent drains a stream, concatenating every content delta. It
// stops at the terminal marker or at end of input.
func CollectContent(body io.Reader, log *slog.Logger) (string, error) {
	r := NewReader(body, log)
	var sb strings.Builder
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		switch ev.Type {
		case EventTerminal:
			return sb.String(), nil
		case EventContentDelta:
			sb.WriteString(ev.Delta)
		}
	}
}

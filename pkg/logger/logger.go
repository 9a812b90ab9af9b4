package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Handler is a human-readable slog.Handler for terminal output.
type Handler struct {
	attrs  []slog.Attr
	groups []string

	level slog.Leveler

	mu  *sync.Mutex
	out io.Writer
}

// NewHandler creates a Handler writing to out at the given minimum level.
func NewHandler(out io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{out: out, level: level, mu: &sync.Mutex{}}
}

func (h *Handler) clone() *Handler {
	return &Handler{
		attrs:  h.attrs,
		groups: h.groups,
		level:  h.level,
		mu:     h.mu,
		out:    h.out,
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	bf := bufPool.Get().(*bytes.Buffer)
	bf.Reset()
	defer bufPool.Put(bf)

	if !r.Time.IsZero() {
		fmt.Fprint(bf, color.New(color.Faint).Sprint(r.Time.Format(time.DateTime)))
		fmt.Fprint(bf, " ")
	}

	switch r.Level {
	case slog.LevelDebug:
		fmt.Fprint(bf, color.New(color.FgCyan).Sprint("DEBUG"))
	case slog.LevelInfo:
		fmt.Fprint(bf, color.New(color.FgGreen).Sprint("INFO "))
	case slog.LevelWarn:
		fmt.Fprint(bf, color.New(color.FgYellow).Sprint("WARN "))
	case slog.LevelError:
		fmt.Fprint(bf, color.New(color.FgRed).Sprint("ERROR"))
	}

	fmt.Fprint(bf, " ", r.Message)

	var attrs []slog.Attr
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	for _, a := range attrs {
		key := a.Key
		for i := len(h.groups) - 1; i >= 0; i-- {
			key = h.groups[i] + "." + key
		}
		c := color.FgCyan
		if key == "err" || key == "error" {
			c = color.FgRed
		}
		fmt.Fprint(bf, " ", color.New(c).Sprintf("%s=", key), a.Value.String())
	}

	fmt.Fprint(bf, "\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(bf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	h2.attrs = append(h2.attrs, attrs...)
	return h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

var bufPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Err returns an attribute for an error value.
func Err(err error) slog.Attr {
	return slog.Any("err", err)
}

package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConsoleHandler writes one human-readable line per record:
//
//	2026-01-02T03:04:05Z hostnet[42]: [warn] applier: message key=value
//
// The component attribute is lifted in front of the message.
type ConsoleHandler struct {
	out   io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	group string
	// component is the last component bound with WithAttrs.
	component string
	bound     []slog.Attr
}

// NewConsoleHandler creates a ConsoleHandler. A nil opts logs at info.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: out, mu: new(sync.Mutex), level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled reports whether level passes the configured threshold.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes r.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	component := h.component
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			a.Key = h.group + a.Key
			rest = append(rest, a)
		}
		return true
	})

	var buf bytes.Buffer
	buf.WriteString(ts.Format(time.RFC3339))
	buf.WriteString(" hostnet[")
	buf.WriteString(strconv.Itoa(os.Getpid()))
	buf.WriteString("]: [")
	buf.WriteString(strings.ToLower(r.Level.String()))
	buf.WriteString("] ")
	if component != "" {
		buf.WriteString(strings.ToLower(component))
		buf.WriteString(": ")
	}
	buf.WriteString(r.Message)
	for _, a := range h.bound {
		writeAttr(&buf, a)
	}
	for _, a := range rest {
		writeAttr(&buf, a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func writeAttr(buf *bytes.Buffer, a slog.Attr) {
	v := a.Value.Resolve().String()
	if strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	buf.WriteByte(' ')
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(v)
}

// WithAttrs returns a handler that prints attrs on every line.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.bound = append([]slog.Attr(nil), h.bound...)
	for _, a := range attrs {
		if a.Key == "component" {
			c.component = a.Value.String()
			continue
		}
		a.Key = h.group + a.Key
		c.bound = append(c.bound, a)
	}
	return &c
}

// WithGroup prefixes later keys with "name.".
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.group + name + "."
	return &c
}

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// consoleHandler renders one human-readable line per record:
//
//	2024-05-01T10:00:00Z INFO [0123abcd] ensemble/Dataset001_PET: model finished cases=4
//
// The run ID, component and model attributes are lifted into the line head;
// everything else trails as key=value pairs.
type consoleHandler struct {
	out        *lockedWriter
	level      slog.Leveler
	withSource bool

	head   lineHead
	fields []byte
	prefix string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

func newConsoleHandler(w io.Writer, level slog.Leveler, withSource bool) *consoleHandler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, withSource: withSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	head := h.head
	fields := append([]byte(nil), h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, &head, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := make([]byte, 0, 96+len(fields))
	line = ts.UTC().AppendFormat(line, time.RFC3339)
	line = append(line, ' ')
	line = append(line, r.Level.String()...)
	line = append(line, ' ')
	line = head.appendTo(line)

	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line = append(line, msg...)

	if h.withSource {
		if src := r.Source(); src != nil {
			line = fmt.Appendf(line, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	line = append(line, fields...)
	line = append(line, '\n')
	return h.out.write(line)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.fields = append([]byte(nil), h.fields...)
	for _, a := range attrs {
		next.fields = appendField(next.fields, &next.head, next.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// lineHead holds the attributes promoted out of the key=value tail. The first
// value seen for each key wins.
type lineHead struct {
	run       string
	component string
	model     string
}

func (l *lineHead) claim(key string, v slog.Value) bool {
	var slot *string
	switch key {
	case FieldRunID:
		slot = &l.run
	case FieldComponent:
		slot = &l.component
	case FieldModel:
		slot = &l.model
	default:
		return false
	}
	if *slot == "" {
		*slot = valueText(v)
	}
	return true
}

func (l lineHead) appendTo(b []byte) []byte {
	if l.run != "" {
		b = append(b, '[')
		b = append(b, shortRunID(l.run)...)
		b = append(b, "] "...)
	}
	switch {
	case l.component != "" && l.model != "":
		b = fmt.Appendf(b, "%s/%s: ", l.component, l.model)
	case l.component != "":
		b = append(b, l.component...)
		b = append(b, ": "...)
	case l.model != "":
		b = append(b, l.model...)
		b = append(b, ": "...)
	}
	return b
}

func appendField(b []byte, head *lineHead, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return b
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			b = appendField(b, head, inner, ga)
		}
		return b
	}
	if prefix == "" && head.claim(a.Key, a.Value) {
		return b
	}
	b = append(b, ' ')
	b = append(b, prefix...)
	b = append(b, a.Key...)
	b = append(b, '=')
	text := valueText(a.Value)
	if needsQuoting(text) {
		return strconv.AppendQuote(b, text)
	}
	return append(b, text...)
}

func valueText(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []string:
			return strings.Join(x, ",")
		default:
			return fmt.Sprint(x)
		}
	default:
		return v.String()
	}
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"' || !unicode.IsPrint(r)
	})
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// File: internal/observability/logbook.go
package observability

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const styleKey = "style"

// Style is the presentation metadata attached to a log entry.
type Style struct {
	Color          string `json:"color,omitempty"`
	Emoji          string `json:"emoji,omitempty"`
	FontStyle      string `json:"fontStyle,omitempty"`
	FontWeight     string `json:"fontWeight,omitempty"`
	DataAttributes string `json:"dataAttributes,omitempty"`
	Hidden         bool   `json:"hidden,omitempty"`
}

// Common styles used across the harness.
var (
	StyleQuiet   = Style{Color: "grey", FontStyle: "italic"}
	StyleSuccess = Style{Color: "green", Emoji: "✅"}
	StyleFailure = Style{Color: "red", Emoji: "❌", DataAttributes: "data-errors"}
	StyleDOMDump = Style{Color: "grey", Emoji: "🖨️", DataAttributes: "data-errors data-dom-output", Hidden: true}
)

// Styled attaches a Style to a log call. The field is skip-typed, so console
// and JSON encoders ignore it; only the LogBook reads it.
func Styled(s Style) zap.Field {
	return zap.Field{Key: styleKey, Type: zapcore.SkipType, Interface: s}
}

// Entry is a single ordered record in the LogBook.
type Entry struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Level  string    `json:"level"`
	Logger string    `json:"logger,omitempty"`
	Text   string    `json:"text"`
	Style  Style     `json:"style"`
}

// LogBook is an append-only, ordered record of log entries. Entries are
// only removed by Clear or, when a cap is set, by dropping the oldest.
type LogBook struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq uint64
	max     int
}

// NewLogBook creates a book holding at most max entries (0 means unbounded).
func NewLogBook(max int) *LogBook {
	return &LogBook{max: max, nextSeq: 1}
}

// Append records text with the given style and returns the stored entry.
func (b *LogBook) Append(text string, style Style) Entry {
	return b.append(Entry{Time: time.Now(), Level: zapcore.InfoLevel.String(), Text: text, Style: style})
}

func (b *LogBook) append(e Entry) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Seq = b.nextSeq
	b.nextSeq++
	b.entries = append(b.entries, e)
	if b.max > 0 && len(b.entries) > b.max {
		b.entries = append([]Entry(nil), b.entries[len(b.entries)-b.max:]...)
	}
	return e
}

// Since returns a copy of every entry with a sequence number greater than seq.
func (b *LogBook) Since(seq uint64) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of all entries in insertion order.
func (b *LogBook) Entries() []Entry {
	return b.Since(0)
}

// LastSeq is the sequence number of the newest entry, or 0.
func (b *LogBook) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq - 1
}

// Clear drops every entry. Sequence numbers keep increasing.
func (b *LogBook) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

// Core returns a zapcore.Core writing into the book.
func (b *LogBook) Core(enab zapcore.LevelEnabler) zapcore.Core {
	return &bookCore{LevelEnabler: enab, book: b}
}

type bookCore struct {
	zapcore.LevelEnabler
	book   *LogBook
	fields []zapcore.Field
}

func (c *bookCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *bookCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bookCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	style, ok := findStyle(fields)
	if !ok {
		style, ok = findStyle(c.fields)
	}
	if !ok {
		style = levelStyle(ent.Level)
	}
	c.book.append(Entry{
		Time:   ent.Time,
		Level:  ent.Level.String(),
		Logger: ent.LoggerName,
		Text:   ent.Message,
		Style:  style,
	})
	return nil
}

func (c *bookCore) Sync() error { return nil }

func findStyle(fields []zapcore.Field) (Style, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if f.Key == styleKey && f.Type == zapcore.SkipType {
			if s, ok := f.Interface.(Style); ok {
				return s, true
			}
		}
	}
	return Style{}, false
}

func levelStyle(l zapcore.Level) Style {
	switch {
	case l >= zapcore.ErrorLevel:
		return StyleFailure
	case l == zapcore.WarnLevel:
		return Style{Color: "orange", Emoji: "⚠️"}
	case l == zapcore.DebugLevel:
		return StyleQuiet
	default:
		return Style{Color: "#ffbf00"}
	}
}

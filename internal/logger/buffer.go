package logger

import (
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Caller    string    `json:"caller,omitempty"`
}

// Buffer is a fixed-size ring of recent log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	writePos int
	count    int
	minLevel zerolog.Level
}

var (
	globalBuffer *Buffer
	bufferOnce   sync.Once
)

// GetBuffer returns the process-wide buffer. It keeps the last 2000 entries
// at info level and above.
func GetBuffer() *Buffer {
	bufferOnce.Do(func() {
		globalBuffer = NewBuffer(2000, zerolog.InfoLevel)
	})
	return globalBuffer
}

func NewBuffer(size int, minLevel zerolog.Level) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries:  make([]Entry, size),
		minLevel: minLevel,
	}
}

func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.writePos] = e
	b.writePos = (b.writePos + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Recent returns up to limit entries, newest first, whose level is at least
// level (empty means any) and which are not older than since.
func (b *Buffer) Recent(limit int, level string, since time.Duration) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	floor := zerolog.TraceLevel
	if level != "" {
		floor = parseLevel(level)
	}
	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}

	result := make([]Entry, 0, limit)
	size := len(b.entries)
	for i := 0; i < b.count && len(result) < limit; i++ {
		e := b.entries[(b.writePos-1-i+size)%size]
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		if lvl, err := zerolog.ParseLevel(strings.ToLower(e.Level)); err == nil && lvl < floor {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// BufferWriter is a zerolog.LevelWriter feeding a Buffer with the JSON
// events produced by the logger.
type BufferWriter struct {
	buf *Buffer
}

func NewBufferWriter(buf *Buffer) *BufferWriter {
	return &BufferWriter{buf: buf}
}

func (w *BufferWriter) Write(p []byte) (int, error) {
	w.capture(p)
	return len(p), nil
}

func (w *BufferWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.buf.minLevel {
		return len(p), nil
	}
	w.capture(p)
	return len(p), nil
}

type rawEntry struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Caller    string `json:"caller"`
}

func (w *BufferWriter) capture(p []byte) {
	var raw rawEntry
	if err := json.Unmarshal(p, &raw); err != nil {
		return
	}
	if raw.Message == "" && raw.Level == "" {
		return
	}

	ts := time.Now()
	if t, err := time.Parse(time.RFC3339, raw.Time); err == nil {
		ts = t
	}
	w.buf.Add(Entry{
		Timestamp: ts,
		Level:     strings.ToUpper(raw.Level),
		Component: raw.Component,
		Message:   raw.Message,
		Error:     raw.Error,
		Caller:    raw.Caller,
	})
}

package slogx

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ChanWriter buffers writes and sends complete lines to channel.
// Used to fan action output into the task logger.
type ChanWriter struct {
	Ch  chan<- string
	Buf []byte
}

func (w *ChanWriter) Write(p []byte) (n int, err error) {
	w.Buf = append(w.Buf, p...)
	for {
		i := bytes.IndexByte(w.Buf, '\n')
		if i < 0 {
			break
		}
		w.send(strings.TrimRight(string(w.Buf[:i]), "\r"))
		w.Buf = w.Buf[i+1:]
	}
	return len(p), nil
}

// Flush sends a trailing line that has no newline.
func (w *ChanWriter) Flush() {
	if len(w.Buf) > 0 {
		w.send(string(w.Buf))
		w.Buf = w.Buf[:0]
	}
}

func (w *ChanWriter) send(line string) {
	select {
	case w.Ch <- line:
	default:
		// channel full, drop
	}
}

// Drain logs every line received on ch until it is closed.
func Drain(ch <-chan string, logger *slog.Logger, msg string) {
	for s := range ch {
		logger.Info(msg, "line", s)
	}
}

// ParseLevel converts string (debug|info|warn|error) to slog.Level. Unknown → info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewDefault creates a logger writing to stderr with the given level string.
func NewDefault(level string) *slog.Logger {
	return NewLogger(level, "text", os.Stderr)
}

// NewLogger creates a logger in text or json format. Unknown format → text.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

package slogx

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanWriterLines(t *testing.T) {
	ch := make(chan string, 4)
	w := &ChanWriter{Ch: ch}

	_, _ = w.Write([]byte("first\r\nsec"))
	_, _ = w.Write([]byte("ond\ntail"))
	w.Flush()
	close(ch)

	var got []string
	for s := range ch {
		got = append(got, s)
	}
	assert.Equal(t, []string{"first", "second", "tail"}, got)
}

func TestChanWriterDropsWhenFull(t *testing.T) {
	ch := make(chan string, 1)
	w := &ChanWriter{Ch: ch}
	n, err := w.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "a", <-ch)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("info", "json", &buf).Info("hello", "k", 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])

	buf.Reset()
	NewLogger("warn", "text", &buf).Info("hidden")
	assert.Empty(t, buf.String())
	NewLogger("warn", "text", &buf).Warn("shown")
	assert.True(t, strings.Contains(buf.String(), "msg=shown"))
}

func TestDrain(t *testing.T) {
	var buf bytes.Buffer
	ch := make(chan string, 2)
	ch <- "built 3 pages"
	close(ch)
	Drain(ch, NewLogger("info", "text", &buf), "output")
	assert.Contains(t, buf.String(), `line="built 3 pages"`)
}

package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := SetupLogger(LoggerOptions{Level: slog.LevelInfo, Output: &buf})
	require.NoError(t, err)
	defer closeFn()
	require.NotNil(t, logger)

	logger.Info("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Contains(t, rec, "timestamp")
	assert.NotContains(t, rec, "time")
}

func TestSetupLoggerRejectsUnknownFormat(t *testing.T) {
	_, _, err := SetupLogger(LoggerOptions{Format: "xml"})
	assert.Error(t, err)
}

func TestSetupLoggerRedactsImageData(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := SetupLogger(LoggerOptions{Level: slog.LevelDebug, Output: &buf})
	require.NoError(t, err)
	defer closeFn()

	payload := bytes.Repeat([]byte{0xff}, 64)
	logger.Debug("prompt", "turn", types.Turn{Role: types.RoleUser, Parts: []types.Part{
		types.TextPart{Text: "Image 1a:"},
		types.ImagePart{Name: "1a", MIMEType: "image/png", Data: payload},
	}})

	out := buf.String()
	assert.Contains(t, out, "[redacted 64 bytes]")
	assert.Contains(t, out, "Image 1a:")
	assert.NotContains(t, out, "/////")
}

func TestRedactAttrsCustomPredicate(t *testing.T) {
	hook := RedactAttrs(func(groups []string, a slog.Attr) bool { return a.Key == "secret" })

	got := hook(nil, slog.String("secret", "abcd"))
	assert.Equal(t, "[redacted 4 bytes]", got.Value.String())

	kept := hook(nil, slog.String("public", "abcd"))
	assert.Equal(t, "abcd", kept.Value.String())
}

func TestSetupLoggerWritesFileSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closeFn, err := SetupLogger(LoggerOptions{Level: slog.LevelInfo, Format: FormatConsole, Dir: dir, Output: &buf})
	require.NoError(t, err)

	logger.Debug("only in file")
	logger.Info("everywhere")
	require.NoError(t, closeFn())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".log"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "only in file")
	assert.Contains(t, string(data), "everywhere")
	assert.NotContains(t, buf.String(), "only in file")
	assert.Contains(t, buf.String(), "everywhere")
}

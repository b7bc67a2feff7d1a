package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilai-dev/gowebserver/internal/blockingqueue"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.level)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
	assert.Contains(t, out, "[WARN]")
}

func TestFormatArgsKeyValue(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("message", "key", "value")
	assert.Contains(t, buf.String(), "key=value")
}

func TestPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Infof("count=%d", 3)
	assert.Contains(t, buf.String(), "count=3")
}

func TestAsyncDeliveryWritesEventually(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf, QueueSize: 16})

	logger.Info("async hello")
	logger.Flush()
	// Close joins the writer goroutine, so the buffer is quiescent by the
	// time we read it.
	require.NoError(t, logger.Close())

	assert.Contains(t, buf.String(), "async hello")
}

func TestAsyncFullQueueFallsBackToSynchronousWrite(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf, QueueSize: 1})

	// Retire the writer goroutine, then install a saturated queue with
	// nobody draining it: a producer logging against it must write
	// synchronously instead of waiting for space.
	logger.queue.Close()
	logger.wg.Wait()
	logger.queue = blockingqueue.New[string](1)
	require.True(t, logger.queue.Push("occupier"))

	logger.Info("went direct")

	assert.Contains(t, buf.String(), "went direct")
	assert.Equal(t, 1, logger.queue.Size())
}

func TestCloseIsIdempotent(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelInfo, Output: &bytes.Buffer{}, QueueSize: 4})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	Info("info message")
	Warn("warning message")
	Error("error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warning message", "error message"} {
		assert.True(t, strings.Contains(out, want), "expected %q in output: %s", want, out)
	}
}

func TestLineCountRotationTrigger(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&Config{Level: LevelInfo, Dir: dir, BaseName: "test.log", MaxLines: 2})
	defer logger.Close()

	first := logger.file
	logger.Info("line one")
	logger.Info("line two")
	logger.Info("line three") // should trigger rotation on entry
	assert.NotSame(t, first, logger.file)
}

func TestDayRotationTrigger(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&Config{Level: LevelInfo, Dir: dir, BaseName: "test.log"})
	defer logger.Close()

	logger.today = dayStamp(time.Now().AddDate(0, 0, -1))
	first := logger.file
	logger.Info("new day line")
	assert.NotSame(t, first, logger.file)
}

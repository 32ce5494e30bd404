package events

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hostplane/provision/internal/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "error", Writer: &bytes.Buffer{}})
	require.NoError(t, err)
	return log
}

func TestLineEmitter_Format(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLineEmitter(&buf, newTestLogger(t), "run-1")

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	emitter.Emit(Event{ActionID: "create_db", Status: "skipped", Duration: 42 * time.Millisecond, Timestamp: ts})

	require.Equal(t, "2026-03-14T09:26:53Z create_db skipped 42\n", buf.String())
}

func TestLineEmitter_OneLinePerTransition(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLineEmitter(&buf, newTestLogger(t), "run-1")

	emitter.Emit(Event{ActionID: "install_db", Status: "running"})
	emitter.Emit(Event{ActionID: "install_db", Status: "applied", Duration: time.Second})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	lineFormat := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z \S+ \S+ \d+$`)
	for _, line := range lines {
		require.Regexp(t, lineFormat, line)
	}
}

func TestLineEmitter_RecordsEvents(t *testing.T) {
	emitter := NewLineEmitter(nil, newTestLogger(t), "run-1")

	emitter.Emit(Event{ActionID: "a", Status: "applied"})
	emitter.Emit(Event{ActionID: "b", Status: "failed"})

	got := emitter.Events()
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ActionID)
	require.Equal(t, "failed", got[1].Status)
}

func TestLineEmitter_ConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLineEmitter(&buf, newTestLogger(t), "run-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emitter.Emit(Event{ActionID: "x", Status: "applied"})
		}()
	}
	wg.Wait()

	require.Len(t, emitter.Events(), 8)
}

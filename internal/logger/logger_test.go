package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordWriter struct {
	mutex sync.Mutex
	lines []string
}

func (w *recordWriter) Log(level Level, format string, args ...interface{}) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lines = append(w.lines, level.String()+" "+fmt.Sprintf(format, args...))
}

func TestPionLoggerFactory(t *testing.T) {
	w := &recordWriter{}
	l := (&PionLoggerFactory{Parent: w}).NewLogger("ice")

	l.Debugf("dropped %d", 1)
	l.Trace("dropped")
	l.Infof("gathered %d candidates", 3)
	l.Warn("slow")
	l.Error("boom")

	require.Equal(t, []string{
		"INFO [pion ice] gathered 3 candidates",
		"WARN [pion ice] slow",
		"ERROR [pion ice] boom",
	}, w.lines)
}

func TestAsyncLogQueueSplitsErrors(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	q, err := NewAsyncLogQueue("xpusher", WithLogDir(dir), WithConsole(&console), WithLogQueueSize(4))
	require.NoError(t, err)

	q.Log(Info, "hello %s", "world")
	q.Log(Error, "failed: %v", "oops")
	q.Stop()
	q.Stop()
	q.Log(Info, "after stop")

	info, err := os.ReadFile(filepath.Join(dir, "xpusher.log"))
	require.NoError(t, err)
	require.Contains(t, string(info), "[INFO] hello world")
	require.NotContains(t, string(info), "oops")

	errs, err := os.ReadFile(filepath.Join(dir, "xpusher.error.log"))
	require.NoError(t, err)
	require.Contains(t, string(errs), "[ERROR] failed: oops")

	require.NotContains(t, console.String(), "after stop")
}

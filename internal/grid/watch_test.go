package grid

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_DebouncesLogChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	var mu sync.Mutex
	var batches [][]string

	w, err := NewWatcher([]string{dir, dir, filepath.Join(dir, "missing")}, 50*time.Millisecond,
		func(_ context.Context, paths []string) {
			mu.Lock()
			batches = append(batches, paths)
			mu.Unlock()
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	logFile := filepath.Join(dir, "track_from_digit_000001_R005.log")
	for i := 0; i < 5; i++ {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString("line\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{logFile}, batches[0])
	for _, b := range batches {
		assert.NotContains(t, b, filepath.Join(dir, "notes.txt"))
	}
}

func TestNewWatcher_NothingToWatch(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, time.Second, nil)
	assert.Error(t, err)
}

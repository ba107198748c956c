package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_RecordFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	rec := Record{
		Time: time.Date(2025, 6, 15, 14, 30, 5, 0, time.UTC),
		User: "alice",
		Path: "/messages",
	}
	require.NoError(t, sink.Record(context.Background(), rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15 14:30:05 - User: alice - Path: /messages\n", string(data))
}

func TestFileSink_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	rec := Record{
		Time: time.Date(2025, 6, 15, 14, 30, 5, 0, time.UTC),
		User: AnonymousUser,
		Path: "/",
	}

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Record(context.Background(), rec))
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestFileSink_ConcurrentWritesProduceWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Record(context.Background(), Record{
				Time: time.Now(),
				User: "alice",
				Path: "/messages",
			})
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, writers)
	for _, line := range lines {
		assert.Contains(t, line, "User: alice")
		assert.Contains(t, line, "Path: /messages")
	}
}

func TestFileSink_CanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Record(ctx, Record{Time: time.Now(), User: "alice", Path: "/"})
	assert.ErrorIs(t, err, context.Canceled)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Empty(t, data)
}

func TestNewFileSink_InvalidPath(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "requests.log"))

	assert.Error(t, err)
}

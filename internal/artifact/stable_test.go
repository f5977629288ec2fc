package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWaiter() *StableWaiter {
	return &StableWaiter{
		PollInterval:   2 * time.Millisecond,
		SampleInterval: 2 * time.Millisecond,
		Samples:        3,
		MaxRounds:      10,
	}
}

func TestWait_FileCreatedLateThenStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temporary.pdf")

	// Simulate a slow external handler: file appears after a while, grows,
	// then stops changing.
	go func() {
		time.Sleep(10 * time.Millisecond)
		f, _ := os.Create(path)
		f.Write([]byte("part"))
		f.Close()
		time.Sleep(5 * time.Millisecond)
		os.WriteFile(path, []byte("full content"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fastWaiter().Wait(ctx, path))
}

func TestWait_NeverStabilizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "growing.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
				if err == nil {
					f.Write([]byte("x"))
					f.Close()
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := fastWaiter().Wait(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNeverStabilized)
	assert.Contains(t, err.Error(), "growing.pdf")
}

func TestWait_RejectsZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	// A stale zero-byte placeholder must never be declared stable, even
	// though its size is perfectly constant.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := fastWaiter().Wait(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNeverStabilized)
}

func TestWait_ContextCancelledWhileMissing(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := fastWaiter().Wait(ctx, filepath.Join(dir, "never.pdf"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForFiles(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(10 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "invoice-123.pdf"), []byte("%PDF"), 0o644)
	}()

	ctx := context.Background()
	matches, err := fastWaiter().WaitForFiles(ctx, dir, "*.pdf", 100)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "invoice-123.pdf", filepath.Base(matches[0]))
}

func TestWaitForFiles_GivesUp(t *testing.T) {
	dir := t.TempDir()
	_, err := fastWaiter().WaitForFiles(context.Background(), dir, "*.pdf", 3)
	assert.ErrorIs(t, err, ErrFilesNeverAppeared)
}

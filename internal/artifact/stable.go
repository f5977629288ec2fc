// internal/artifact/stable.go
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// ErrNeverStabilized is returned when a file keeps changing size past the
// bounded number of stability rounds.
var ErrNeverStabilized = errors.New("file size never stabilized")

// ErrFilesNeverAppeared is returned when a glob-based wait for an external
// download runs out of polls.
var ErrFilesNeverAppeared = errors.New("expected files never appeared")

// StableWaiter detects completion of externally-triggered writes
// (print-to-file, browser downloads) that offer no completion callback.
// A file counts as stable once Samples consecutive size readings are equal
// and non-zero; the zero check guards against stale placeholder files from
// an interrupted run.
type StableWaiter struct {
	// PollInterval is the delay between existence checks. The existence
	// wait is unbounded apart from the context: the external handler may
	// not have created the file at all yet.
	PollInterval time.Duration
	// SampleInterval is the delay between size samples within one round.
	SampleInterval time.Duration
	// Samples is how many consecutive equal readings count as stable.
	Samples int
	// MaxRounds bounds the stability check; exceeding it is a fatal
	// I/O timeout naming the path.
	MaxRounds int
}

// DefaultWaiter matches the pacing the print-to-PDF flow needs in practice:
// 3 samples 2s apart, at most 10 rounds (~40s of instability allowed).
func DefaultWaiter() *StableWaiter {
	return &StableWaiter{
		PollInterval:   time.Second,
		SampleInterval: 2 * time.Second,
		Samples:        3,
		MaxRounds:      10,
	}
}

// Wait blocks until the file at path exists and its size is stable.
func (w *StableWaiter) Wait(ctx context.Context, path string) error {
	for !CanExist(path) {
		log.Debug().Str("file", filepath.Base(path)).Msg("File does not exist yet")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.PollInterval):
		}
	}

	round := 0
	check := func() error {
		round++
		sizes := make([]int64, 0, w.Samples)
		for i := 0; i < w.Samples; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(w.SampleInterval):
				}
			}
			info, err := os.Stat(path)
			if err != nil {
				// The external writer may create-then-replace; treat a
				// vanished file as an unstable reading.
				sizes = append(sizes, -1)
				continue
			}
			sizes = append(sizes, info.Size())
		}
		log.Debug().
			Str("file", filepath.Base(path)).
			Ints64("sizes", sizes).
			Int("round", round).
			Msg("Watching for stable non-empty file")
		if stable(sizes) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNeverStabilized, path)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.SampleInterval), uint64(w.MaxRounds-1)),
		ctx,
	)
	if err := backoff.Retry(check, bo); err != nil {
		return fmt.Errorf("waited %d rounds for %s: %w", w.MaxRounds, path, err)
	}
	log.Debug().Str("file", filepath.Base(path)).Msg("File appears stable")
	return nil
}

// WaitForFiles polls dir until at least one file matches glob, bounded by
// maxPolls. Used when the browser picks the output filename itself.
func (w *StableWaiter) WaitForFiles(ctx context.Context, dir, glob string, maxPolls int) ([]string, error) {
	for i := 0; i < maxPolls; i++ {
		matches, err := filepath.Glob(filepath.Join(dir, glob))
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", glob, err)
		}
		if len(matches) > 0 {
			return matches, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.PollInterval):
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrFilesNeverAppeared, dir, glob)
}

// CanExist reports bare existence, unlike CanRead which also demands
// readability and non-zero size.
func CanExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func stable(sizes []int64) bool {
	if len(sizes) == 0 {
		return false
	}
	first := sizes[0]
	if first <= 0 {
		return false
	}
	for _, s := range sizes[1:] {
		if s != first {
			return false
		}
	}
	return true
}

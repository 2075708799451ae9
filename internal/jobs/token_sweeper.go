// Package jobs contains background workers that run on a schedule. The token
// sweeper periodically marks expired download tokens consumed so that listing
// endpoints and operators see accurate state without waiting for the next
// validation attempt to lazily reject. Jobs are designed to be idempotent —
// re-running after a crash produces the same result as a clean run.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/safego"
)

// tokenSweepService is the slice of the token service the sweeper consumes
type tokenSweepService interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// TokenSweeper marks expired download tokens consumed on a fixed interval
type TokenSweeper struct {
	service  tokenSweepService
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTokenSweeper creates a token sweeper. Intervals below one minute are
// raised to one minute so a misconfigured sweep cannot hammer the database.
func NewTokenSweeper(service tokenSweepService, interval time.Duration) *TokenSweeper {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &TokenSweeper{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep. The first sweep runs immediately so a
// restart does not leave stale tokens sitting for a full interval.
func (j *TokenSweeper) Start(ctx context.Context) {
	slog.Info("starting token sweeper", "interval", j.interval)

	j.wg.Add(1)
	safego.Go(func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-j.stopCh:
				slog.Info("token sweeper stopped")
				return
			case <-ctx.Done():
				slog.Info("token sweeper context cancelled")
				return
			}
		}
	})
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (j *TokenSweeper) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *TokenSweeper) sweep(ctx context.Context) {
	swept, err := j.service.SweepExpired(ctx)
	if err != nil {
		slog.Error("token sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("expired tokens swept", "count", swept)
	}
}

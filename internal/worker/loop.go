package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweep is one pass of a periodic job.
type Sweep interface {
	Name() string
	Run(ctx context.Context) error
}

// Start runs sweep once and then every interval in a background goroutine until ctx is
// done. The returned channel is closed when the goroutine exits.
func Start(ctx context.Context, sweep Sweep, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("sweep", sweep.Name()).Dur("interval", interval).Msg("Starting sweep worker")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			runOnce(ctx, sweep)
			select {
			case <-ctx.Done():
				log.Info().Str("sweep", sweep.Name()).Msg("Sweep worker stopped")
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func runOnce(ctx context.Context, sweep Sweep) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("sweep", sweep.Name()).Msg("Sweep panicked")
		}
	}()
	if err := sweep.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("sweep", sweep.Name()).Msg("Sweep failed")
	}
}

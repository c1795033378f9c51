package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/eviration/very-good-auctions/internal/domain/auction"
)

// Finalizer periodically closes events whose end time has passed and persists
// each item's final winner. The claim inside the engine is a compare-and-set,
// so running a finalizer per instance is safe.
type Finalizer struct {
	cron   *cron.Cron
	engine *auction.Engine
	spec   string
	logger *slog.Logger
}

// NewFinalizer creates a finalizer running on the given cron spec
// (e.g. "@every 15s")
func NewFinalizer(engine *auction.Engine, spec string, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		cron:   cron.New(cron.WithSeconds()),
		engine: engine,
		spec:   spec,
		logger: logger,
	}
}

// Start registers the job and starts the cron loop
func (f *Finalizer) Start(ctx context.Context) error {
	_, err := f.cron.AddFunc(f.spec, func() {
		closed, runErr := f.engine.FinalizeExpiredEvents(ctx)
		if runErr != nil {
			f.logger.Error("finalizer run failed", "error", runErr)
			return
		}
		if closed > 0 {
			f.logger.Info("finalized ended events", "count", closed)
		}
	})
	if err != nil {
		return err
	}

	f.cron.Start()
	return nil
}

// Stop stops the cron loop, waiting for a running job to finish
func (f *Finalizer) Stop() {
	<-f.cron.Stop().Done()
}

package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// GCSchedule drives periodic Clean() calls on a cron expression (spec
// §4.5 GC, server operation "clean"), matching the teacher's own use of
// robfig/cron for background scheduling.
type GCSchedule struct {
	cron *cron.Cron
}

// StartGCScheduler parses expr (standard 5-field cron syntax) and runs
// Clean against objects untouched for at least maxAge every time it
// fires, logging the outcome. Call Stop to halt it.
func StartGCScheduler(idx *Index, expr string, maxAge time.Duration, batchSize int, logger *slog.Logger) (*GCSchedule, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		ctx := context.Background()
		cutoff := time.Now().UTC().Add(-maxAge)
		deleted, err := idx.Clean(ctx, cutoff, batchSize)
		if err != nil {
			logger.Error("gc sweep failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("gc sweep complete", "deleted", deleted)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &GCSchedule{cron: c}, nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (g *GCSchedule) Stop() {
	<-g.cron.Stop().Done()
}

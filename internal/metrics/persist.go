package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPersistInterval matches the five minute dump cadence.
const DefaultPersistInterval = 300 * time.Second

// Persister periodically dumps a History to dated JSON files.
type Persister struct {
	History  *History
	Dir      string
	Interval time.Duration
	Logger   *slog.Logger
	now      func() time.Time
}

// Run blocks until ctx is cancelled, persisting every Interval and once more
// on the way out.
func (p *Persister) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.flush(logger)
			return
		case <-t.C:
			p.flush(logger)
		}
	}
}

func (p *Persister) flush(logger *slog.Logger) {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	path, err := p.History.Persist(p.Dir, now())
	if err != nil {
		logger.Error("Failed to persist metrics history", "dir", p.Dir, "error", err)
		return
	}
	if path != "" {
		logger.Debug("Persisted metrics history", "path", path, "samples", p.History.Len())
	}
}

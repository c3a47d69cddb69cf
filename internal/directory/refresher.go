package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher periodically persists the cache snapshot to its store.
type Refresher struct {
	cron  *cron.Cron
	cache *Cache
	log   *slog.Logger
}

// NewRefresher schedules a persist job with the given cron spec
// (e.g. "@every 15m").
func NewRefresher(log *slog.Logger, cache *Cache, spec string) (*Refresher, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Refresher{
		cron:  cron.New(),
		cache: cache,
		log:   log.With(slog.String("service", "directory-refresh")),
	}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("invalid refresh cron %q: %w", spec, err)
	}
	return r, nil
}

// Start begins the refresh schedule.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.cache.Persist(ctx); err != nil {
		r.log.Warn("directory persist failed", slog.Any("error", err))
		return
	}
	r.log.Debug("directory snapshot persisted", slog.Int("users", r.cache.Len()))
}

package ingest

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/heliotrends/internal/store"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	maxRefreshInterval     = time.Hour
	pruneInterval          = 24 * time.Hour
)

// Refresher recomputes the dashboard. degraded is true when any upstream
// was replaced by mock data.
type Refresher interface {
	Refresh(ctx context.Context) (degraded bool, err error)
}

// Pruner trims stored history and archives. *store.Store satisfies it.
type Pruner interface {
	PruneHistory(keep int) (int64, error)
	CleanupOldRawPayloads(retentionDays int) (int64, error)
	CleanupOldIngestRuns(retentionDays int) (int64, error)
}

// Scheduler refreshes the dashboard in the background. While upstreams are
// serving fallbacks the interval backs off exponentially up to an hour.
type Scheduler struct {
	refresher Refresher
	pruner    Pruner
	interval  time.Duration
	backoff   *backoff.ExponentialBackOff
}

func NewScheduler(refresher Refresher, pruner Pruner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxRefreshInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Scheduler{
		refresher: refresher,
		pruner:    pruner,
		interval:  interval,
		backoff:   bo,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.prune()
	next := s.refresh(ctx)

	timer := time.NewTimer(next)
	pruneTicker := time.NewTicker(pruneInterval)
	defer timer.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-timer.C:
			timer.Reset(s.refresh(ctx))
		case <-pruneTicker.C:
			s.prune()
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) time.Duration {
	degraded, err := s.refresher.Refresh(ctx)
	if err != nil {
		log.Printf("scheduler: refresh failed: %v", err)
	}
	return s.nextInterval(degraded || err != nil)
}

func (s *Scheduler) nextInterval(degraded bool) time.Duration {
	if !degraded {
		s.backoff.Reset()
		return s.interval
	}
	next := s.backoff.NextBackOff()
	if next == backoff.Stop {
		next = maxRefreshInterval
	}
	log.Printf("scheduler: upstreams degraded, next refresh in %s", next.Round(time.Second))
	return next
}

func (s *Scheduler) prune() {
	if s.pruner == nil {
		return
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		if n, err := s.pruner.PruneHistory(store.HistoryRetention); err != nil {
			return classifyStoreError(err)
		} else if n > 0 {
			log.Printf("scheduler: pruned %d history points", n)
		}
		if n, err := s.pruner.CleanupOldRawPayloads(store.RawPayloadRetentionDays); err != nil {
			return classifyStoreError(err)
		} else if n > 0 {
			log.Printf("scheduler: deleted %d raw payloads", n)
		}
		if n, err := s.pruner.CleanupOldIngestRuns(store.RawPayloadRetentionDays); err != nil {
			return classifyStoreError(err)
		} else if n > 0 {
			log.Printf("scheduler: deleted %d ingest runs", n)
		}
		return nil
	}, bo)
	if err != nil {
		log.Printf("scheduler: prune failed: %v", err)
	}
}

// classifyStoreError marks everything except sqlite lock contention as
// permanent.
func classifyStoreError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return err
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return err
	}
	return backoff.Permanent(err)
}

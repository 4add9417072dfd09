package tripsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// DefaultPollInterval is how often the selected trip is re-fetched.
const DefaultPollInterval = 10 * time.Second

// pollTimeout bounds one fetch.
const pollTimeout = 5 * time.Second

// RefreshPoller re-fetches one trip on a fixed interval and reports it when
// its activities differ from the cached copy. It backs up the push
// subscription for the selected trip and lives exactly as long as the
// selection does.
type RefreshPoller struct {
	interval time.Duration
	fetch    func(ctx context.Context) (domain.TripRecord, error)
	cached   func() (domain.TripRecord, bool)
	onChange func(domain.TripRecord)
	logger   *slog.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRefreshPoller creates a stopped poller. cached returns the copy to
// compare against; onChange receives a fetched trip that differs from it.
func NewRefreshPoller(
	interval time.Duration,
	fetch func(ctx context.Context) (domain.TripRecord, error),
	cached func() (domain.TripRecord, bool),
	onChange func(domain.TripRecord),
	logger *slog.Logger,
) *RefreshPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshPoller{
		interval: interval,
		fetch:    fetch,
		cached:   cached,
		onChange: onChange,
		logger:   logger,
	}
}

// Start begins polling. The first fetch happens one interval after Start,
// since the caller has just fetched the trip itself.
func (p *RefreshPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("tripsync.RefreshPoller.Start: already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.isRunning = true

	go p.pollLoop(ctx, p.done)
	return nil
}

// Stop cancels the poller and waits for an in-flight tick to finish, so
// onChange is never called after Stop returns.
func (p *RefreshPoller) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
}

func (p *RefreshPoller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one tick: fetch, compare, report. It returns whether a change
// was reported.
func (p *RefreshPoller) Poll(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	fresh, err := p.fetch(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Deletion reaches the engine through the subscription.
		return false
	case err != nil:
		if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "refresh poll failed", "error", err)
		}
		return false
	}

	cached, ok := p.cached()
	if !ok || cached.ID != fresh.ID {
		return false
	}
	if !activitiesChanged(cached.Trip, fresh.Trip) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	p.logger.DebugContext(ctx, "refresh poll found changes", "trip_id", fresh.ID)
	p.onChange(fresh)
	return true
}

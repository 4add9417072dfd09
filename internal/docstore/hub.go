package docstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// fetchFunc produces the current result of a watched query or document.
type fetchFunc func(ctx context.Context) ([]Document, error)

// watcher is one live subscription registered with a hub.
type watcher struct {
	collection string
	kick       chan struct{}
	cancel     context.CancelFunc
}

// hub fans change notifications out to the subscriptions of a store whose
// backend has no native push (memory, sqlite) or whose push only says "this
// collection changed" (postgres LISTEN/NOTIFY). Each watcher re-runs its fetch
// when kicked and emits the new result if it differs from the last one.
type hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	wg       sync.WaitGroup
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{logger: logger, watchers: make(map[*watcher]struct{})}
}

// watch starts a subscription that emits fetch's result immediately and again
// after every notify of collection.
func (h *hub) watch(ctx context.Context, collection string, fetch fetchFunc) *Subscription {
	sub, ctx, out := newSubscription(ctx)
	w := &watcher{collection: collection, kick: make(chan struct{}, 1), cancel: sub.cancel}
	w.kick <- struct{}{}

	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(sub.done)
		defer close(out)
		defer func() {
			h.mu.Lock()
			delete(h.watchers, w)
			h.mu.Unlock()
		}()
		h.run(ctx, w, fetch, &emitter{out: out})
	}()
	return sub
}

func (h *hub) run(ctx context.Context, w *watcher, fetch fetchFunc, e *emitter) {
	backoff := newBackoff()
	var retryC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		case <-retryC:
			retryC = nil
		}

		docs, err := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.WarnContext(ctx, "docstore: watch fetch failed",
				"collection", w.collection, "error", err)
			if !e.emit(ctx, Snapshot{Err: err}) {
				return
			}
			wait, _ := backoff.Next()
			retryC = time.After(wait)
			continue
		}
		backoff = newBackoff()
		if !e.emit(ctx, Snapshot{Docs: docs}) {
			return
		}
	}
}

// notify kicks every watcher of the given collections.
func (h *hub) notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		for _, c := range collections {
			if w.collection == c {
				select {
				case w.kick <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

// notifyAll kicks every watcher, used after a push channel reconnects and
// notifications may have been missed.
func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// close cancels every live watcher and waits for their goroutines to exit.
func (h *hub) close() {
	h.mu.Lock()
	for w := range h.watchers {
		w.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// newBackoff is the resume schedule for failed fetches and dropped streams.
func newBackoff() retry.Backoff {
	return retry.WithCappedDuration(5*time.Second, retry.NewExponential(100*time.Millisecond))
}

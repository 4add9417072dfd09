package tripsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/repo"
	"github.com/pkordes/tripsync/backend/internal/service"
)

// ErrClosed is returned by operations on an Engine after Close.
var ErrClosed = errors.New("tripsync: engine closed")

// ErrSuperseded is returned by Initialize and EnsureInitialized when a
// sign-out or another Initialize replaced the session before it was ready.
var ErrSuperseded = errors.New("tripsync: session superseded")

// Config carries an Engine's collaborators.
type Config struct {
	Trips       repo.TripRepo
	Invitations repo.InvitationRepo

	TripService       *service.TripService
	InvitationService *service.InvitationService
	CheckIn           *service.CheckInWorkflow

	// PollInterval is the RefreshPoller period; zero means DefaultPollInterval.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Engine is one user's live view of their trips. It is safe for concurrent
// use. Every subscription it opens is tied to its lifetime and cancelled by
// SignOut, Initialize for another user, or Close.
type Engine struct {
	trips        repo.TripRepo
	invitations  repo.InvitationRepo
	tripSvc      *service.TripService
	inviteSvc    *service.InvitationService
	checkIn      *service.CheckInWorkflow
	pollInterval time.Duration
	logger       *slog.Logger

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	kick      chan struct{}
	listeners listeners

	// initMu serializes Initialize and EnsureInitialized.
	initMu sync.Mutex

	mu    sync.Mutex
	gen   uint64 // bumped whenever state is reset; stale work compares against it
	state State
	// Latest snapshot of each trip stream; the published partitions are
	// recomputed from their union.
	owned      []domain.TripRecord
	shared     []domain.TripRecord
	optimistic []domain.TripRecord
	streams    streams
	sel        *selection
	selSeq     uint64
	loading    int
	inflight   map[string]bool
	closed     bool
}

type streams struct {
	owned   *repo.Stream[domain.TripRecord]
	shared  *repo.Stream[domain.TripRecord]
	pending *repo.Stream[domain.TripInvitation]
}

func (s streams) cancel() {
	if s.owned != nil {
		s.owned.Cancel()
	}
	if s.shared != nil {
		s.shared.Cancel()
	}
	if s.pending != nil {
		s.pending.Cancel()
	}
}

// New creates a signed-out Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	life, stop := context.WithCancel(context.Background())
	e := &Engine{
		trips:        cfg.Trips,
		invitations:  cfg.Invitations,
		tripSvc:      cfg.TripService,
		inviteSvc:    cfg.InvitationService,
		checkIn:      cfg.CheckIn,
		pollInterval: cfg.PollInterval,
		logger:       logger,
		life:         life,
		stop:         stop,
		kick:         make(chan struct{}, 1),
		inflight:     map[string]bool{},
	}
	e.wg.Add(1)
	go e.dispatch()
	return e
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// OnChange registers fn to receive the state after every change. Calls are
// made from a single goroutine, in order, and coalesce when fn is slow. fn
// must not modify the State it receives. The returned func unregisters fn.
func (e *Engine) OnChange(fn func(State)) (cancel func()) {
	return e.listeners.add(fn)
}

func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case <-e.life.Done():
			return
		case <-e.kick:
			e.listeners.notify(e.State())
		}
	}
}

// changed schedules a notification. It never blocks.
func (e *Engine) changed() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// spawn runs fn on a goroutine tracked by Close. It reports false, without
// running fn, once the engine is closed.
func (e *Engine) spawn(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// ---- lifecycle ----

// Initialize discards any previous session state, fetches u's owned trips,
// shared trips and pending invitations, then opens long-lived subscriptions.
//
// A failed fetch leaves the lists empty and sets State.Err; it is not
// returned, and the subscriptions are opened regardless so the view heals
// once the store is reachable. Only a failure to subscribe is returned.
func (e *Engine) Initialize(ctx context.Context, u identity.User) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.initialize(ctx, u)
}

func (e *Engine) initialize(ctx context.Context, u identity.User) error {
	if u.ID == "" {
		return fmt.Errorf("tripsync.Engine.Initialize: %w: user id is required", domain.ErrValidation)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	gen, old := e.resetLocked(State{UserID: u.ID, Email: u.Email, IsLoading: true})
	e.loading = 1
	e.mu.Unlock()
	old.cancel()
	e.changed()

	owned, shared, pending, err := e.fetchAll(ctx, u)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return fmt.Errorf("tripsync.Engine.Initialize: %w", ErrSuperseded)
	}
	if err != nil {
		e.state.Err = err.Error()
		e.logger.WarnContext(ctx, "initial fetch failed", "user_id", u.ID, "error", err)
	} else {
		e.owned, e.shared = owned, shared
		e.state.PendingInvitations = pending
		e.recomputeLocked()
	}
	e.loading = 0
	e.state.IsLoading = false
	e.state.Initialized = true
	e.mu.Unlock()
	e.changed()

	if err := e.openStreams(gen, u); err != nil {
		return fmt.Errorf("tripsync.Engine.Initialize: %w", err)
	}
	e.logger.InfoContext(ctx, "sync engine initialized",
		"user_id", u.ID, "my_trips", len(owned), "shared", len(shared), "invitations", len(pending))
	return nil
}

// EnsureInitialized initializes the engine for u unless it already is, in
// which case it only reopens subscriptions that are no longer running.
func (e *Engine) EnsureInitialized(ctx context.Context, u identity.User) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	ready := e.state.Initialized && e.state.UserID == u.ID
	gen := e.gen
	e.mu.Unlock()

	if !ready {
		return e.initialize(ctx, u)
	}
	if err := e.openStreams(gen, u); err != nil {
		return fmt.Errorf("tripsync.Engine.EnsureInitialized: %w", err)
	}
	return nil
}

// SignOut clears all state and cancels every subscription before returning.
// No state change from an earlier session is observed afterwards.
func (e *Engine) SignOut() {
	e.mu.Lock()
	_, old := e.resetLocked(State{})
	e.mu.Unlock()
	old.cancel()
	e.changed()
}

// Close signs out and stops the engine. It waits for every goroutine the
// engine started.
func (e *Engine) Close() error {
	e.SignOut()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()
	e.wg.Wait()
	return nil
}

// Attach follows p: a sign-in initializes the engine for that user and a
// sign-out clears it. A signed-out provider leaves the engine alone until
// its first sign-in. It stops when the engine is closed.
func (e *Engine) Attach(p identity.Provider) {
	ch := p.Changes(e.life)
	e.spawn(func() {
		signedIn := false
		for u := range ch {
			if u == nil {
				if signedIn {
					signedIn = false
					e.SignOut()
				}
				continue
			}
			signedIn = true
			err := e.EnsureInitialized(e.life, *u)
			if err != nil && !errors.Is(err, ErrSuperseded) && e.life.Err() == nil {
				e.logger.Warn("initialize on sign-in failed", "user_id", u.ID, "error", err)
			}
		}
	})
}

// handles are subscriptions detached from the state and awaiting cancellation.
type handles struct {
	streams streams
	sel     *selection
}

func (h handles) cancel() {
	if h.sel != nil {
		h.sel.stop()
	}
	h.streams.cancel()
}

// resetLocked replaces the state and detaches every subscription. The caller
// must cancel the returned handles after releasing e.mu.
func (e *Engine) resetLocked(next State) (uint64, handles) {
	e.gen++
	old := handles{streams: e.streams, sel: e.sel}
	e.streams = streams{}
	e.sel = nil
	e.owned, e.shared, e.optimistic = nil, nil, nil
	e.loading = 0
	e.inflight = map[string]bool{}
	if next.UserID != "" {
		next.MyTrips = []domain.TripRecord{}
		next.SharedWithMe = []domain.TripRecord{}
		next.PendingInvitations = []domain.TripInvitation{}
	}
	e.state = next
	return e.gen, old
}

func (e *Engine) fetchAll(ctx context.Context, u identity.User) (owned, shared []domain.TripRecord, pending []domain.TripInvitation, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = e.trips.ListOwned(gctx, u.ID)
		return err
	})
	g.Go(func() error {
		var err error
		shared, err = e.trips.ListShared(gctx, u.ID)
		return err
	})
	if u.Email != "" {
		g.Go(func() error {
			var err error
			pending, err = e.invitations.ListPending(gctx, u.Email)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	if pending == nil {
		pending = []domain.TripInvitation{}
	}
	return owned, shared, pending, nil
}

// ---- subscriptions ----

// openStreams opens whichever of the session's subscriptions are not running.
// It fails with ErrSuperseded once gen is no longer current.
func (e *Engine) openStreams(gen uint64, u identity.User) error {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return ErrSuperseded
	}
	have := e.streams
	e.mu.Unlock()

	var opened streams
	var err error
	if have.owned == nil {
		if opened.owned, err = e.trips.WatchOwned(e.life, u.ID); err != nil {
			return err
		}
	}
	if have.shared == nil {
		if opened.shared, err = e.trips.WatchShared(e.life, u.ID); err != nil {
			opened.cancel()
			return err
		}
	}
	if have.pending == nil && u.Email != "" {
		if opened.pending, err = e.invitations.WatchPending(e.life, u.Email); err != nil {
			opened.cancel()
			return err
		}
	}

	e.mu.Lock()
	if e.closed || e.gen != gen {
		closed := e.closed
		e.mu.Unlock()
		opened.cancel()
		if closed {
			return ErrClosed
		}
		return ErrSuperseded
	}
	var unused streams
	if opened.owned != nil {
		if e.streams.owned == nil {
			e.streams.owned = opened.owned
		} else {
			unused.owned, opened.owned = opened.owned, nil
		}
	}
	if opened.shared != nil {
		if e.streams.shared == nil {
			e.streams.shared = opened.shared
		} else {
			unused.shared, opened.shared = opened.shared, nil
		}
	}
	if opened.pending != nil {
		if e.streams.pending == nil {
			e.streams.pending = opened.pending
		} else {
			unused.pending, opened.pending = opened.pending, nil
		}
	}
	e.mu.Unlock()
	unused.cancel()

	if s := opened.owned; s != nil {
		followStream(e, gen, "owned trips", s, func(items []domain.TripRecord) { e.owned = items; e.recomputeLocked() },
			func() bool { return e.streams.owned == s }, func() { e.streams.owned = nil })
	}
	if s := opened.shared; s != nil {
		followStream(e, gen, "shared trips", s, func(items []domain.TripRecord) { e.shared = items; e.recomputeLocked() },
			func() bool { return e.streams.shared == s }, func() { e.streams.shared = nil })
	}
	if s := opened.pending; s != nil {
		followStream(e, gen, "invitations", s, func(items []domain.TripInvitation) { e.state.PendingInvitations = items },
			func() bool { return e.streams.pending == s }, func() { e.streams.pending = nil })
	}
	return nil
}

// followStream applies each event of s to the state while gen is current.
// apply, owns and detach run under e.mu. When s ends without being cancelled
// it is detached so the next EnsureInitialized reopens it.
func followStream[T any](e *Engine, gen uint64, name string, s *repo.Stream[T], apply func([]T), owns func() bool, detach func()) {
	ok := e.spawn(func() {
		for ev := range s.C {
			e.mu.Lock()
			if e.gen != gen {
				e.mu.Unlock()
				continue
			}
			if ev.Err != nil {
				e.state.Err = fmt.Sprintf("%s: %v", name, ev.Err)
				e.mu.Unlock()
				e.logger.Warn("subscription error", "stream", name, "user_id", e.userID(), "error", ev.Err)
				e.changed()
				continue
			}
			apply(ev.Items)
			e.state.Err = ""
			e.mu.Unlock()
			e.changed()
		}
		e.mu.Lock()
		if e.gen == gen && owns() {
			detach()
		}
		e.mu.Unlock()
	})
	if !ok {
		s.Cancel()
	}
}

func (e *Engine) userID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.UserID
}

// ---- state helpers (caller holds e.mu) ----

// recomputeLocked rebuilds both partitions from the stream snapshots and the
// optimistic inserts, replacing them wholesale.
func (e *Engine) recomputeLocked() {
	mine, shared := Partition(e.state.UserID, e.owned, e.shared)
	if len(e.optimistic) > 0 {
		mine = append(slices.Clone(e.optimistic), mine...)
	}
	e.state.MyTrips, e.state.SharedWithMe = mine, shared
	e.reconcileSelectedLocked()
}

// reconcileSelectedLocked keeps the selected trip and its list entry equal.
// A shared copy beats a private one; otherwise the higher version wins.
func (e *Engine) reconcileSelectedLocked() {
	sel := e.state.Selected
	if sel == nil {
		return
	}
	for _, list := range [][]domain.TripRecord{e.state.MyTrips, e.state.SharedWithMe} {
		for i := range list {
			if list[i].ID != sel.ID {
				continue
			}
			if list[i].Kind == sel.Kind && list[i].Version == sel.Version {
				return
			}
			if supersedes(list[i], *sel) {
				e.setSelectedLocked(list[i])
			} else {
				list[i] = cloneRecord(*sel)
			}
			return
		}
	}
}

func (e *Engine) setSelectedLocked(rec domain.TripRecord) {
	rec = cloneRecord(rec)
	rec.Activities = domain.SortChronologically(rec.Activities)
	e.state.Selected = &rec
	p := domain.ProgressOf(rec.Trip)
	e.state.Progress = &p
}

func (e *Engine) clearSelectedLocked() *selection {
	old := e.sel
	e.sel = nil
	e.state.Selected = nil
	e.state.Progress = nil
	return old
}

// applyRecordLocked folds a trip returned by a write, the selected-trip
// subscription or the poller into the stream snapshots and the selection.
// An older version than the one already held is ignored.
func (e *Engine) applyRecordLocked(rec domain.TripRecord) {
	if cur, ok := e.freshestLocked(rec.ID); ok && cur.Version > rec.Version && cur.Kind == rec.Kind {
		return
	}
	e.owned = withoutTrip(e.owned, rec.ID)
	e.shared = withoutTrip(e.shared, rec.ID)
	switch rec.Kind {
	case domain.KindShared:
		e.shared = append(e.shared, rec)
	default:
		e.owned = append(e.owned, rec)
	}
	if e.state.Selected != nil && e.state.Selected.ID == rec.ID {
		e.setSelectedLocked(rec)
	}
	e.recomputeLocked()
}

func (e *Engine) removeTripLocked(id string) {
	e.owned = withoutTrip(e.owned, id)
	e.shared = withoutTrip(e.shared, id)
	e.optimistic = withoutTrip(e.optimistic, id)
	e.recomputeLocked()
}

// freshestLocked returns the highest-version copy of trip id the engine holds.
func (e *Engine) freshestLocked(id string) (domain.TripRecord, bool) {
	var best domain.TripRecord
	found := false
	consider := func(r domain.TripRecord) {
		if r.ID == id && (!found || r.Version > best.Version) {
			best, found = r, true
		}
	}
	if e.state.Selected != nil {
		consider(*e.state.Selected)
	}
	for _, r := range e.state.MyTrips {
		consider(r)
	}
	for _, r := range e.state.SharedWithMe {
		consider(r)
	}
	if !found {
		return domain.TripRecord{}, false
	}
	return cloneRecord(best), true
}

func withoutTrip(rs []domain.TripRecord, id string) []domain.TripRecord {
	return slices.DeleteFunc(slices.Clone(rs), func(r domain.TripRecord) bool { return r.ID == id })
}

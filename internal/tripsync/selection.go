package tripsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/repo"
)

// selection is the subscription and poller following the selected trip.
type selection struct {
	seq    uint64
	ref    repo.TripRef
	stream *repo.Stream[domain.TripRecord]
	poller *RefreshPoller
}

// stop must not be called with e.mu held: both the stream and the poller wait
// for callbacks that take it.
func (s *selection) stop() {
	if s == nil {
		return
	}
	s.poller.Stop()
	s.stream.Cancel()
}

// SelectTrip fetches trip tripID, makes it the selected trip and follows it
// with a dedicated subscription and a RefreshPoller. Any previous selection
// is released first.
func (e *Engine) SelectTrip(ctx context.Context, tripID string) (domain.TripRecord, error) {
	e.mu.Lock()
	if !e.state.Initialized {
		e.mu.Unlock()
		return domain.TripRecord{}, fmt.Errorf("tripsync.Engine.SelectTrip: %w", domain.ErrNotInitialized)
	}
	gen, uid := e.gen, e.state.UserID
	e.mu.Unlock()

	rec, err := e.tripSvc.Get(ctx, uid, tripID)
	if err != nil {
		e.fail(gen, err)
		return domain.TripRecord{}, fmt.Errorf("tripsync.Engine.SelectTrip: %w", err)
	}
	if err := e.selectRecord(gen, 0, rec); err != nil {
		e.fail(gen, err)
		return domain.TripRecord{}, fmt.Errorf("tripsync.Engine.SelectTrip: %w", err)
	}
	return e.selected(rec), nil
}

// Deselect releases the selected trip, its subscription and its poller.
func (e *Engine) Deselect() {
	e.mu.Lock()
	old := e.clearSelectedLocked()
	e.mu.Unlock()
	old.stop()
	e.changed()
}

// selected returns the engine's copy of the selected trip, falling back to rec.
func (e *Engine) selected(rec domain.TripRecord) domain.TripRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Selected != nil && e.state.Selected.ID == rec.ID {
		return cloneRecord(*e.state.Selected)
	}
	return rec
}

// selectRecord installs rec as the selection. With replacing non-zero it only
// does so while selection replacing is still current, so a relocation never
// overrides a SelectTrip that happened meanwhile.
func (e *Engine) selectRecord(gen, replacing uint64, rec domain.TripRecord) error {
	ref := repo.RefOf(rec)
	stream, err := e.trips.WatchTrip(e.life, ref)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.gen != gen || e.closed || (replacing != 0 && (e.sel == nil || e.sel.seq != replacing)) {
		e.mu.Unlock()
		stream.Cancel()
		return nil
	}
	old := e.sel
	e.selSeq++
	sel := &selection{seq: e.selSeq, ref: ref, stream: stream}
	sel.poller = NewRefreshPoller(e.pollInterval,
		func(ctx context.Context) (domain.TripRecord, error) { return e.trips.Get(ctx, ref) },
		func() (domain.TripRecord, bool) { return e.selectedCopy(gen, sel.seq) },
		func(fresh domain.TripRecord) { e.applySelection(gen, sel.seq, fresh) },
		e.logger.With("trip_id", rec.ID),
	)
	e.sel = sel
	e.applyRecordLocked(rec)
	e.setSelectedLocked(rec)
	e.state.Err = ""
	e.mu.Unlock()

	old.stop()
	if !e.spawn(func() { e.followSelection(gen, sel) }) {
		stream.Cancel()
		return ErrClosed
	}
	if err := sel.poller.Start(e.life); err != nil {
		return err
	}
	e.changed()
	return nil
}

func (e *Engine) followSelection(gen uint64, sel *selection) {
	for ev := range sel.stream.C {
		switch {
		case ev.Err != nil:
			e.mu.Lock()
			if e.currentLocked(gen, sel.seq) {
				e.state.Err = fmt.Sprintf("selected trip: %v", ev.Err)
			}
			e.mu.Unlock()
			e.changed()
		case len(ev.Items) == 0:
			// The document left this location: deleted, or promoted to the
			// shared collection.
			e.spawn(func() { e.relocate(gen, sel.seq, sel.ref.ID) })
		default:
			e.applySelection(gen, sel.seq, ev.Items[0])
		}
	}
}

// applySelection folds a fresh copy of the selected trip into the state
// while selection seq is current.
func (e *Engine) applySelection(gen, seq uint64, rec domain.TripRecord) {
	e.mu.Lock()
	if !e.currentLocked(gen, seq) {
		e.mu.Unlock()
		return
	}
	if !domain.CanView(rec.Trip, e.state.UserID) {
		old := e.clearSelectedLocked()
		e.removeTripLocked(rec.ID)
		e.state.Err = fmt.Sprintf("trip %s: %v", rec.ID, domain.ErrPermission)
		e.mu.Unlock()
		// Called from the poller's tick: stopping it here would wait on itself.
		if !e.spawn(old.stop) {
			go old.stop()
		}
		e.changed()
		return
	}
	e.applyRecordLocked(rec)
	e.mu.Unlock()
	e.changed()
}

// relocate finds the selected trip after it disappeared from its location.
// A promoted trip is selected again at its new location; a trip that is gone
// or no longer visible is deselected and dropped from the lists.
func (e *Engine) relocate(gen, seq uint64, tripID string) {
	uid := e.userID()
	rec, err := e.tripSvc.Get(e.life, uid, tripID)

	e.mu.Lock()
	if !e.currentLocked(gen, seq) {
		e.mu.Unlock()
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermission):
		old := e.clearSelectedLocked()
		e.removeTripLocked(tripID)
		e.state.Err = fmt.Sprintf("trip %s: %v", tripID, domain.ErrNotFound)
		e.mu.Unlock()
		old.stop()
		e.changed()
		return
	case err != nil:
		e.state.Err = fmt.Sprintf("selected trip: %v", err)
		e.mu.Unlock()
		e.changed()
		return
	case repo.RefOf(rec) == e.sel.ref:
		e.applyRecordLocked(rec)
		e.mu.Unlock()
		e.changed()
		return
	}
	e.mu.Unlock()

	if err := e.selectRecord(gen, seq, rec); err != nil {
		e.fail(gen, err)
	}
}

// selectedCopy is the poller's cached copy.
func (e *Engine) selectedCopy(gen, seq uint64) (domain.TripRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(gen, seq) || e.state.Selected == nil {
		return domain.TripRecord{}, false
	}
	return cloneRecord(*e.state.Selected), true
}

func (e *Engine) currentLocked(gen, seq uint64) bool {
	return e.gen == gen && e.sel != nil && e.sel.seq == seq
}

// fail records err as the session's error while gen is current.
func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	if e.gen == gen {
		e.state.Err = err.Error()
	}
	e.mu.Unlock()
	e.changed()
}

package repo

import (
	"sync"

	"github.com/pkordes/tripsync/backend/internal/docstore"
)

// Event is one decoded emission of a Stream. Err carries either a backend
// failure or a document that could not be decoded; the stream keeps running.
type Event[T any] struct {
	Items []T
	Err   error
}

// Stream is a typed view over a docstore.Subscription.
type Stream[T any] struct {
	C <-chan Event[T]

	sub  *docstore.Subscription
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newStream[T any](sub *docstore.Subscription, decode func([]docstore.Document) ([]T, error)) *Stream[T] {
	out := make(chan Event[T], 1)
	s := &Stream[T]{C: out, sub: sub, stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer close(out)
		for snap := range sub.C {
			ev := Event[T]{Err: snap.Err}
			if snap.Err == nil {
				ev.Items, ev.Err = decode(snap.Docs)
			}
			select {
			case out <- ev:
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

// Cancel stops the stream and waits for its goroutine to exit. An event
// already buffered in C may still be read afterwards.
func (s *Stream[T]) Cancel() {
	s.once.Do(func() { close(s.stop) })
	s.sub.Cancel()
	<-s.done
}

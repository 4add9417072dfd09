package tripsync

import (
	"slices"
	"sync"
)

type listener struct {
	id int
	fn func(State)
}

// listeners is a copy-on-write callback list: notify iterates a snapshot, so
// callbacks may add or remove listeners without deadlocking.
type listeners struct {
	mu     sync.Mutex
	nextID int
	list   []listener
}

func (l *listeners) add(fn func(State)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	next := slices.Clone(l.list)
	l.list = append(next, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.IndexFunc(l.list, func(x listener) bool { return x.id == id })
	if i < 0 {
		return
	}
	next := slices.Clone(l.list)
	l.list = slices.Delete(next, i, i+1)
}

func (l *listeners) get() []listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

func (l *listeners) notify(s State) {
	for _, x := range l.get() {
		x.fn(s)
	}
}

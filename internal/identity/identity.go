// Package identity supplies the authenticated user to the rest of the service.
// Verifiers turn a bearer credential into a User; a Session tracks one user's
// sign-in state and broadcasts its transitions.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnauthenticated is returned by verifiers for a missing, malformed,
// expired or otherwise unacceptable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is an authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Verifier checks a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// Provider reports who is signed in and when that changes.
type Provider interface {
	// CurrentUser returns the signed-in user, if any.
	CurrentUser() (User, bool)

	// Changes emits the current state immediately and then every transition:
	// a non-nil user on sign-in, nil on sign-out. Only the latest state is
	// kept for a slow reader. The channel is closed when ctx is done.
	Changes(ctx context.Context) <-chan *User
}

// Session is a Provider driven by explicit SignIn and SignOut calls.
type Session struct {
	mu   sync.Mutex
	user *User
	subs map[chan *User]struct{}
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{subs: map[chan *User]struct{}{}}
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// SignIn makes u the current user and notifies subscribers.
func (s *Session) SignIn(u User) {
	s.set(&u)
}

// SignOut clears the current user and notifies subscribers.
func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
	for ch := range s.subs {
		offer(ch, u)
	}
}

// Changes subscribes to sign-in state transitions.
func (s *Session) Changes(ctx context.Context) <-chan *User {
	ch := make(chan *User, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	offer(ch, s.user)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// offer replaces whatever is buffered in ch with u. Callers hold the session
// lock, so there is exactly one sender per channel.
func offer(ch chan *User, u *User) {
	var v *User
	if u != nil {
		c := *u
		v = &c
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying u.
func NewContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by NewContext.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

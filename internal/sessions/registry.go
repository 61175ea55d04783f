// Package sessions holds the live crop sessions of the API, one per
// presentation, and serialises access to each of them.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"closet-api/internal/cropengine"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrDuplicate = errors.New("session id already registered")
)

type entry struct {
	mu       sync.Mutex
	session  *cropengine.Session
	lastUsed time.Time
}

type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// New returns a registry whose sessions expire after ttl without use. A
// non-positive ttl disables expiry.
func New(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]*entry),
	}
}

func (r *Registry) Add(s *cropengine.Session) uuid.UUID {
	id := uuid.New()
	_ = r.AddWithID(id, s)
	return id
}

// AddWithID registers s under an id chosen by the caller, so callbacks built
// before registration can refer to it.
func (r *Registry) AddWithID(id uuid.UUID, s *cropengine.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrDuplicate
	}
	r.entries[id] = &entry{session: s, lastUsed: r.now()}
	return nil
}

// With runs fn with exclusive access to the session. Sessions that fn
// leaves saved or cancelled are removed from the registry.
func (r *Registry) With(id uuid.UUID, fn func(s *cropengine.Session) error) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.State() != cropengine.StateActive {
		return ErrNotFound
	}
	err := fn(e.session)
	e.lastUsed = r.now()
	if e.session.State() != cropengine.StateActive {
		r.remove(id, e)
	}
	return err
}

// Cancel cancels the session and removes it.
func (r *Registry) Cancel(id uuid.UUID) error {
	return r.With(id, func(s *cropengine.Session) error {
		return s.Cancel()
	})
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Expire cancels every session idle longer than the ttl and returns how many
// were cancelled.
func (r *Registry) Expire() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	candidates := make(map[uuid.UUID]*entry, len(r.entries))
	for id, e := range r.entries {
		candidates[id] = e
	}
	r.mu.Unlock()

	expired := 0
	for id, e := range candidates {
		e.mu.Lock()
		if e.lastUsed.Before(cutoff) && e.session.State() == cropengine.StateActive {
			if err := e.session.Cancel(); err == nil {
				expired++
			}
			r.remove(id, e)
		}
		e.mu.Unlock()
	}
	return expired
}

// Sweep calls Expire every interval until ctx is done.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Expire(); n > 0 {
				slog.Info("expired idle crop sessions", "count", n)
			}
		}
	}
}

func (r *Registry) remove(id uuid.UUID, e *entry) {
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

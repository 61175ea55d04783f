package sessions

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"closet-api/internal/cropengine"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, opts ...cropengine.Option) *cropengine.Session {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	s, err := cropengine.NewSession(src, 300, cropengine.Size{W: 400, H: 200}, opts...)
	require.NoError(t, err)
	return s
}

func TestWithUnknownSession(t *testing.T) {
	r := New(time.Minute)
	err := r.With(uuid.New(), func(*cropengine.Session) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWithPropagatesError(t *testing.T) {
	r := New(time.Minute)
	id := r.Add(newSession(t))
	boom := errors.New("boom")
	require.ErrorIs(t, r.With(id, func(*cropengine.Session) error { return boom }), boom)
	require.Equal(t, 1, r.Len())
}

func TestCommitRemovesSession(t *testing.T) {
	r := New(time.Minute)
	id := r.Add(newSession(t))

	err := r.With(id, func(s *cropengine.Session) error {
		_, err := s.Commit(context.Background())
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())
	require.ErrorIs(t, r.With(id, func(*cropengine.Session) error { return nil }), ErrNotFound)
}

func TestCancel(t *testing.T) {
	cancelled := false
	r := New(time.Minute)
	id := r.Add(newSession(t, cropengine.OnCancel(func() { cancelled = true })))

	require.NoError(t, r.Cancel(id))
	require.True(t, cancelled)
	require.Equal(t, 0, r.Len())
	require.ErrorIs(t, r.Cancel(id), ErrNotFound)
}

func TestExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := New(10 * time.Minute)
	r.now = func() time.Time { return now }

	cancelled := 0
	stale := r.Add(newSession(t, cropengine.OnCancel(func() { cancelled++ })))
	now = now.Add(8 * time.Minute)
	fresh := r.Add(newSession(t, cropengine.OnCancel(func() { cancelled++ })))
	now = now.Add(3 * time.Minute)

	require.Equal(t, 1, r.Expire())
	require.Equal(t, 1, cancelled)
	require.ErrorIs(t, r.With(stale, func(*cropengine.Session) error { return nil }), ErrNotFound)
	require.NoError(t, r.With(fresh, func(*cropengine.Session) error { return nil }))
}

func TestAddWithIDCallbackSeesID(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := New(time.Minute)
	r.now = func() time.Time { return now }

	id := uuid.New()
	var cancelledID uuid.UUID
	s := newSession(t, cropengine.OnCancel(func() { cancelledID = id }))
	require.NoError(t, r.AddWithID(id, s))
	require.ErrorIs(t, r.AddWithID(id, newSession(t)), ErrDuplicate)

	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, r.Expire())
	require.Equal(t, id, cancelledID)
}

func TestExpireDisabled(t *testing.T) {
	r := New(0)
	r.Add(newSession(t))
	require.Equal(t, 0, r.Expire())
	require.Equal(t, 1, r.Len())
}

func TestWithSerialisesAccess(t *testing.T) {
	r := New(time.Minute)
	id := r.Add(newSession(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.With(id, func(s *cropengine.Session) error {
				if err := s.Drag(1, 1); err != nil {
					return err
				}
				return s.EndDrag()
			})
		}()
	}
	wg.Wait()

	require.NoError(t, r.With(id, func(s *cropengine.Session) error {
		require.InDelta(t, 50, s.Transform().Offset.X, 1e-9)
		return nil
	}))
}

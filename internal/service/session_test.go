package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
)

type mockConn struct {
	frames [][]byte
	closed bool
}

func (c *mockConn) Send(frame []byte) bool {
	c.frames = append(c.frames, frame)
	return true
}

func (c *mockConn) Close() error {
	c.closed = true
	return nil
}

type mockCanceler struct {
	cancelled []string
}

func (m *mockCanceler) Cancel(sessionID string) {
	m.cancelled = append(m.cancelled, sessionID)
}

func TestRegistry_Register(t *testing.T) {
	t.Run("starts unauthenticated", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistryWithClock(5, nil, clock.Now)

		s, err := r.Register(&mockConn{}, "192.168.1.20:5000")
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID)
		assert.False(t, s.Authenticated)
		assert.Equal(t, clock.Now(), s.ConnectedAt)
		assert.Equal(t, "192.168.1.20:5000", s.RemoteAddr)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("ids are never reused", func(t *testing.T) {
		r := NewRegistry(0, nil)
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			s, err := r.Register(&mockConn{}, "")
			require.NoError(t, err)
			assert.False(t, seen[s.ID])
			seen[s.ID] = true
			r.Remove(s.ID)
		}
	})

	t.Run("enforces connection limit", func(t *testing.T) {
		r := NewRegistry(2, nil)
		for i := 0; i < 2; i++ {
			_, err := r.Register(&mockConn{}, "")
			require.NoError(t, err)
		}
		_, err := r.Register(&mockConn{}, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTooManyConnections))
	})
}

func TestRegistry_Promote(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(0, nil, clock.Now)
	s, err := r.Register(&mockConn{}, "")
	require.NoError(t, err)

	perms := model.Permissions{Playback: true, Volume: false, Playlist: true, Queue: true}
	clock.Advance(time.Second)

	promoted, ok := r.Promote(s.ID, model.DeviceInfo{Name: "Phone", Type: "watch"}, perms)
	require.True(t, ok)
	assert.True(t, promoted.Authenticated)
	assert.Equal(t, "Phone", promoted.DeviceName)
	assert.Equal(t, model.DeviceTypeOther, promoted.DeviceType)
	assert.Equal(t, perms, promoted.Permissions)
	assert.Equal(t, clock.Now(), promoted.LastActivity)

	t.Run("unknown id", func(t *testing.T) {
		_, ok := r.Promote("missing", model.DeviceInfo{}, perms)
		assert.False(t, ok)
	})
}

func TestRegistry_Touch(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(0, nil, clock.Now)
	s, err := r.Register(&mockConn{}, "")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	r.Touch(s.ID)

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), got.LastActivity)
	assert.Equal(t, s.ConnectedAt, got.ConnectedAt)
}

func TestRegistry_Remove(t *testing.T) {
	canceler := &mockCanceler{}
	r := NewRegistry(0, canceler)
	s, err := r.Register(&mockConn{}, "")
	require.NoError(t, err)

	assert.True(t, r.Remove(s.ID))
	assert.False(t, r.Remove(s.ID))
	assert.Equal(t, []string{s.ID}, canceler.cancelled)

	_, ok := r.Get(s.ID)
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistryWithClock(0, nil, clock.Now)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := r.Register(&mockConn{}, "")
		require.NoError(t, err)
		ids = append(ids, s.ID)
		clock.Advance(time.Second)
	}

	list := r.List()
	require.Len(t, list, 3)
	for i, s := range list {
		assert.Equal(t, ids[i], s.ID)
	}

	t.Run("returns copies", func(t *testing.T) {
		list[0].Authenticated = true
		got, _ := r.Get(ids[0])
		assert.False(t, got.Authenticated)
	})
}

func TestRegistry_Disconnect(t *testing.T) {
	r := NewRegistry(0, nil)
	conn := &mockConn{}
	s, err := r.Register(conn, "")
	require.NoError(t, err)

	require.NoError(t, r.Disconnect(s.ID))
	assert.True(t, conn.closed)
	assert.Equal(t, 1, r.Len(), "session stays until the transport reports close")

	err = r.Disconnect("missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

package service

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
)

// Conn is the outbound half of a client transport.
type Conn interface {
	// Send queues a frame without blocking and reports whether it was queued.
	Send(frame []byte) bool
	Close() error
}

// PairingCanceler forgets the pending pairing of a departed session.
type PairingCanceler interface {
	Cancel(sessionID string)
}

type registryEntry struct {
	session model.Session
	conn    Conn
}

// Registry is the set of live connections. Like Authority it belongs to the
// hub event loop and does no locking of its own.
type Registry struct {
	sessions       map[string]*registryEntry
	maxConnections int
	pairings       PairingCanceler
	now            func() time.Time
}

func NewRegistry(maxConnections int, pairings PairingCanceler) *Registry {
	return NewRegistryWithClock(maxConnections, pairings, time.Now)
}

func NewRegistryWithClock(maxConnections int, pairings PairingCanceler, now func() time.Time) *Registry {
	return &Registry{
		sessions:       make(map[string]*registryEntry),
		maxConnections: maxConnections,
		pairings:       pairings,
		now:            now,
	}
}

// SetMaxConnections applies to later Register calls; live sessions stay.
func (r *Registry) SetMaxConnections(n int) {
	r.maxConnections = n
}

// Register creates an unauthenticated session for a freshly accepted
// transport. A limit of zero or less means unlimited.
func (r *Registry) Register(conn Conn, remoteAddr string) (model.Session, error) {
	if r.maxConnections > 0 && len(r.sessions) >= r.maxConnections {
		return model.Session{}, apperrors.TooManyConnections(r.maxConnections)
	}

	now := r.now()
	s := model.Session{
		ID:           NewSessionID(),
		DeviceType:   model.DeviceTypeOther,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.sessions[s.ID] = &registryEntry{session: s, conn: conn}

	log.Debug().
		Str("sessionId", s.ID).
		Str("remoteAddr", remoteAddr).
		Int("connections", len(r.sessions)).
		Msg("session registered")

	return s, nil
}

// Promote marks a session authenticated. The permissions are a copy taken
// now; later configuration changes do not reach this session.
func (r *Registry) Promote(id string, device model.DeviceInfo, perms model.Permissions) (model.Session, bool) {
	e, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	e.session.Authenticated = true
	e.session.DeviceName = device.Name
	e.session.DeviceType = model.ParseDeviceType(string(device.Type))
	e.session.Permissions = perms
	e.session.LastActivity = r.now()
	return e.session, true
}

func (r *Registry) Touch(id string) {
	if e, ok := r.sessions[id]; ok {
		e.session.LastActivity = r.now()
	}
}

// Remove forgets a session after its transport closed. It is idempotent.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	if r.pairings != nil {
		r.pairings.Cancel(id)
	}
	return true
}

func (r *Registry) Get(id string) (model.Session, bool) {
	e, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return e.session, true
}

func (r *Registry) Conn(id string) (Conn, bool) {
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// List returns snapshots ordered by connection time.
func (r *Registry) List() []model.Session {
	out := make([]model.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Each calls fn for every live session until fn returns false.
func (r *Registry) Each(fn func(s model.Session, conn Conn) bool) {
	for _, e := range r.sessions {
		if !fn(e.session, e.conn) {
			return
		}
	}
}

// Disconnect closes a session's transport. The session itself is removed by
// the normal close path once the transport reports it.
func (r *Registry) Disconnect(id string) error {
	e, ok := r.sessions[id]
	if !ok {
		return apperrors.NotFound("Session")
	}
	if err := e.conn.Close(); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("close transport")
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

package registry

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// Conn is the narrow connection surface the registry tracks. Both device and
// dashboard connections satisfy it.
type Conn interface {
	// ID returns the connection's unique identifier, stable for its lifetime.
	ID() string
	// TrySend queues a frame without blocking. It reports false when the
	// connection is closed or its buffer is full.
	TrySend(data []byte) bool
	// Close shuts the connection down. Safe to call more than once.
	Close()
}

// Registry is the in-memory bookkeeping for active connections: a device-id
// to connection map and the set of dashboard observers. It performs no I/O.
type Registry struct {
	devices cmap.ConcurrentMap[string, Conn]

	mu        sync.RWMutex
	observers map[string]Conn

	logger zerolog.Logger
}

// New creates an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		devices:   cmap.New[Conn](),
		observers: make(map[string]Conn),
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Bind associates a device id with a connection. The newer connection wins;
// the displaced connection, if any, is returned so the caller can close it.
func (r *Registry) Bind(deviceID string, c Conn) Conn {
	var prev Conn
	r.devices.Upsert(deviceID, c, func(exists bool, current, next Conn) Conn {
		if exists && current.ID() != next.ID() {
			prev = current
		}
		return next
	})
	return prev
}

// Unbind removes the device binding held by this connection, if any, and
// returns the device id it was bound to. A binding that has already been
// replaced by a newer connection is left alone.
func (r *Registry) Unbind(c Conn) (string, bool) {
	for item := range r.devices.IterBuffered() {
		if item.Val.ID() == c.ID() {
			removed := r.devices.RemoveCb(item.Key, func(_ string, current Conn, exists bool) bool {
				return exists && current.ID() == c.ID()
			})
			if removed {
				return item.Key, true
			}
			return "", false
		}
	}
	return "", false
}

// AddObserver adds a dashboard connection to the broadcast group.
func (r *Registry) AddObserver(c Conn) {
	r.mu.Lock()
	r.observers[c.ID()] = c
	r.mu.Unlock()
	r.logger.Debug().Str("conn_id", c.ID()).Msg("Dashboard observer added")
}

// RemoveObserver drops a dashboard connection from the broadcast group.
func (r *Registry) RemoveObserver(c Conn) {
	r.mu.Lock()
	delete(r.observers, c.ID())
	r.mu.Unlock()
}

// Observers returns a point-in-time copy of the broadcast group, so callers
// can iterate while bind/unbind proceed concurrently.
func (r *Registry) Observers() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]Conn, 0, len(r.observers))
	for _, c := range r.observers {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// DeviceCount returns the number of bound device connections.
func (r *Registry) DeviceCount() int {
	return r.devices.Count()
}

// ObserverCount returns the number of dashboard connections.
func (r *Registry) ObserverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

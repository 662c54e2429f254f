package registry_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/smartgarden/iot-hub/internal/registry"
)

type stubConn struct {
	id string
}

func (s *stubConn) ID() string          { return s.id }
func (s *stubConn) TrySend([]byte) bool { return true }
func (s *stubConn) Close()              {}

// TestRegistry_Bind_New tests binding a device id for the first time.
func TestRegistry_Bind_New(t *testing.T) {
	r := registry.New(zerolog.Nop())
	conn := &stubConn{id: "conn-1"}

	prev := r.Bind("garden-01", conn)

	assert.Nil(t, prev)
	assert.Equal(t, 1, r.DeviceCount())
}

// TestRegistry_Bind_Rebind tests that a new connection displaces the old one
// and the displaced connection is handed back.
func TestRegistry_Bind_Rebind(t *testing.T) {
	r := registry.New(zerolog.Nop())
	first := &stubConn{id: "conn-1"}
	second := &stubConn{id: "conn-2"}
	r.Bind("garden-01", first)

	prev := r.Bind("garden-01", second)

	assert.Equal(t, first, prev)
	assert.Equal(t, 1, r.DeviceCount())
}

// TestRegistry_Bind_SameConnection tests that re-binding the same connection
// does not report a displaced one.
func TestRegistry_Bind_SameConnection(t *testing.T) {
	r := registry.New(zerolog.Nop())
	conn := &stubConn{id: "conn-1"}
	r.Bind("garden-01", conn)

	prev := r.Bind("garden-01", conn)

	assert.Nil(t, prev)
}

// TestRegistry_Unbind_Success tests unbinding the current holder.
func TestRegistry_Unbind_Success(t *testing.T) {
	r := registry.New(zerolog.Nop())
	conn := &stubConn{id: "conn-1"}
	r.Bind("garden-01", conn)

	deviceID, ok := r.Unbind(conn)

	assert.True(t, ok)
	assert.Equal(t, "garden-01", deviceID)
	assert.Equal(t, 0, r.DeviceCount())
}

// TestRegistry_Unbind_ReplacedBinding tests that a connection whose binding
// was already taken over by a newer one cannot remove it.
func TestRegistry_Unbind_ReplacedBinding(t *testing.T) {
	r := registry.New(zerolog.Nop())
	first := &stubConn{id: "conn-1"}
	second := &stubConn{id: "conn-2"}
	r.Bind("garden-01", first)
	r.Bind("garden-01", second)

	_, ok := r.Unbind(first)

	assert.False(t, ok)
	assert.Equal(t, 1, r.DeviceCount())
}

// TestRegistry_Unbind_NeverBound tests unbinding a connection that never
// registered a device.
func TestRegistry_Unbind_NeverBound(t *testing.T) {
	r := registry.New(zerolog.Nop())

	_, ok := r.Unbind(&stubConn{id: "conn-1"})

	assert.False(t, ok)
}

// TestRegistry_Observers tests the dashboard broadcast group bookkeeping.
func TestRegistry_Observers(t *testing.T) {
	r := registry.New(zerolog.Nop())
	first := &stubConn{id: "dash-1"}
	second := &stubConn{id: "dash-2"}

	r.AddObserver(first)
	r.AddObserver(second)
	assert.Equal(t, 2, r.ObserverCount())
	assert.Len(t, r.Observers(), 2)

	r.RemoveObserver(first)
	assert.Equal(t, 1, r.ObserverCount())
	assert.Equal(t, second, r.Observers()[0])
}

// TestRegistry_Observers_SnapshotIsolation tests that the returned slice is a
// copy, not a live view.
func TestRegistry_Observers_SnapshotIsolation(t *testing.T) {
	r := registry.New(zerolog.Nop())
	conn := &stubConn{id: "dash-1"}
	r.AddObserver(conn)

	snapshot := r.Observers()
	r.RemoveObserver(conn)

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 0, r.ObserverCount())
}

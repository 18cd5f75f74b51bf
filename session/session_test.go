package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/gpot/bus/sim"
)

const simAddr = "SIM0::273A"

func TestSession_Detection(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()

	assert.Equal(t, NoDevice, s.State())
	assert.Equal(t, "red", s.State().Color())

	s.Refresh()
	assert.Equal(t, Detected, s.State())
	assert.Equal(t, "blue", s.State().Color())
	assert.Equal(t, []string{simAddr}, s.Devices())

	drv.Vanish(simAddr)
	s.Refresh()
	assert.Equal(t, NoDevice, s.State())
}

func TestSession_Connect(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()

	assert.NoError(t, s.Connect(simAddr))
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, "green", s.State().Color())

	id, ok := s.Identity()
	assert.True(t, ok)
	assert.Equal(t, "273A SIM", id.ID)

	cap, ok := s.Capability()
	assert.True(t, ok)
	assert.Equal(t, "Simulated 273A", cap.Vendor)

	assert.Equal(t, ErrAlreadyConnected, s.Connect(simAddr))
}

func TestSession_ConnectFailure(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()

	assert.Error(t, s.Connect("GPIB0::14"))
	assert.Equal(t, Detected, s.State())
}

func TestSession_DisconnectGuards(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()

	// nothing connected: rejected before touching the bus
	assert.Equal(t, ErrNotConnected, s.Disconnect(true))

	assert.NoError(t, s.Connect(simAddr))

	// connected but unacknowledged
	assert.Equal(t, ErrNotConfirmed, s.Disconnect(false))
	assert.Equal(t, Connected, s.State())

	assert.NoError(t, s.Disconnect(true))
	assert.Equal(t, Detected, s.State())
	_, ok := s.Identity()
	assert.False(t, ok)
}

func TestSession_RunGuards(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()
	assert.NoError(t, s.Connect(simAddr))

	h, lost, err := s.BeginRun()
	assert.NoError(t, err)
	assert.NotNil(t, h)
	assert.NotNil(t, lost)
	assert.Equal(t, Running, s.State())

	// no disconnect while running, no second run
	assert.Equal(t, ErrRunActive, s.Disconnect(true))
	_, _, err = s.BeginRun()
	assert.Equal(t, ErrRunActive, err)

	s.EndRun(false)
	assert.Equal(t, Connected, s.State())

	// a fresh run on the same handle is fine
	_, _, err = s.BeginRun()
	assert.NoError(t, err)
	s.EndRun(true)
	assert.Equal(t, NoDevice, s.State())
}

func TestSession_BeginRunNotConnected(t *testing.T) {
	s := New(sim.New(), 0)
	defer s.Stop()
	_, _, err := s.BeginRun()
	assert.Equal(t, ErrNotConnected, err)
}

func TestSession_DeviceLostWhileRunning(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()
	assert.NoError(t, s.Connect(simAddr))

	_, lost, err := s.BeginRun()
	assert.NoError(t, err)

	drv.Vanish(simAddr)
	s.Refresh()

	// the run keeps ownership; the engine is notified instead
	assert.Equal(t, Running, s.State())
	select {
	case <-lost:
	default:
		t.Fatal("lost channel should be closed")
	}
}

func TestSession_DeviceLostWhileIdle(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()
	s.Refresh()
	assert.NoError(t, s.Connect(simAddr))

	drv.Vanish(simAddr)
	s.Refresh()
	assert.Equal(t, NoDevice, s.State())
	_, ok := s.Identity()
	assert.False(t, ok)
}

func TestSession_StateCh(t *testing.T) {
	drv := sim.New()
	s := New(drv, 0)
	defer s.Stop()

	s.Refresh()
	select {
	case st := <-s.StateCh():
		assert.Equal(t, Detected, st)
	default:
		t.Fatal("expected a state change")
	}
}

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/gpot/bus"
)

func TestDriver_ListOpen(t *testing.T) {
	d := New()
	addrs, err := d.ListAvailable()
	assert.NoError(t, err)
	assert.Equal(t, []string{"SIM0::273A"}, addrs)

	_, err = d.Open("GPIB0::14")
	assert.ErrorIs(t, err, bus.ErrNotFound)

	h, err := d.Open("SIM0::273A")
	assert.NoError(t, err)

	id, err := h.Identify()
	assert.NoError(t, err)
	assert.Equal(t, "273A SIM", id.ID)
	assert.True(t, h.Capability().HasChannel(bus.Current))
}

func TestHandle_OhmsLaw(t *testing.T) {
	d := New()
	h, err := d.Open("SIM0::273A")
	assert.NoError(t, err)

	assert.NoError(t, h.Set(1000)) // 1V across the 1k dummy cell
	e, err := h.Read(bus.Potential)
	assert.NoError(t, err)
	assert.Equal(t, 1000.0, e)
	i, err := h.Read(bus.Current)
	assert.NoError(t, err)
	assert.InDelta(t, 1e-3, i, 1e-12)

	// cell off reads zero on both channels
	assert.NoError(t, h.Quiesce())
	e, err = h.Read(bus.Potential)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, e)
	i, err = h.Read(bus.Current)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, i)
}

func TestDriver_Vanish(t *testing.T) {
	d := New()
	h, err := d.Open("SIM0::273A")
	assert.NoError(t, err)

	d.Vanish("SIM0::273A")
	addrs, err := d.ListAvailable()
	assert.NoError(t, err)
	assert.Empty(t, addrs)

	_, err = h.Read(bus.Current)
	assert.ErrorIs(t, err, bus.ErrDeviceLost)
	assert.ErrorIs(t, h.Set(100), bus.ErrDeviceLost)

	d.Appear("SIM0::273A")
	addrs, _ = d.ListAvailable()
	assert.Equal(t, []string{"SIM0::273A"}, addrs)
}

func TestDriver_FailAfter(t *testing.T) {
	d := New()
	h, err := d.Open("SIM0::273A")
	assert.NoError(t, err)

	d.FailAfter("SIM0::273A", 2)
	assert.NoError(t, h.Set(100))
	assert.ErrorIs(t, h.Set(200), bus.ErrTimeout)
	assert.ErrorIs(t, h.Set(300), bus.ErrTimeout)
}

func TestHandle_CloseIdempotent(t *testing.T) {
	d := New()
	h, err := d.Open("SIM0::273A")
	assert.NoError(t, err)
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())

	_, err = h.Read(bus.Current)
	assert.ErrorIs(t, err, bus.ErrBus)
}

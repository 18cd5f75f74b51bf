package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/gpot/run"
)

func TestFeed(t *testing.T) {
	f := NewFeed(2)

	assert.NoError(t, f.Sample(run.Sample{Step: 0}))
	assert.NoError(t, f.Sample(run.Sample{Step: 1}))

	// full: further samples are dropped with an error
	assert.Error(t, f.Sample(run.Sample{Step: 2}))

	u := <-f.C()
	assert.NotNil(t, u.Sample)
	assert.Equal(t, 0, u.Sample.Step)
}

func TestFeed_StatusDisplacesSamples(t *testing.T) {
	f := NewFeed(2)
	assert.NoError(t, f.Sample(run.Sample{Step: 0}))
	assert.NoError(t, f.Sample(run.Sample{Step: 1}))

	// a terminal status always gets through, evicting the oldest
	assert.NoError(t, f.Status(run.Status{Done: true, Outcome: run.Completed}))

	u := <-f.C()
	assert.NotNil(t, u.Sample)
	assert.Equal(t, 1, u.Sample.Step)
	u = <-f.C()
	assert.NotNil(t, u.Status)
	assert.True(t, u.Status.Done)
}

package method

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse_RoundTrip(t *testing.T) {
	m := &Method{
		Name:   "cv-basic",
		Cycles: 2,
		Steps: []Step{
			{Kind: Hold, Potential: 0, Duration: Duration(2 * time.Second)},
			{Kind: Sweep, Potential: 0, End: 500, Rate: 100, Duration: Duration(10 * time.Second)},
			{Kind: OpenCircuit, Duration: Duration(500 * time.Millisecond), Average: 4},
		},
	}

	data, err := m.Encode()
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"duration": "2s"`)

	got, err := Parse(data)
	assert.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte(`{"name":"x","steps":[{"kind":"hold","duration":2}]}`))
	assert.Error(t, err)
}

func TestStep_SweepTime(t *testing.T) {
	st := Step{Kind: Sweep, Potential: 0, End: 500, Rate: 100}
	assert.Equal(t, 5*time.Second, st.SweepTime())

	st = Step{Kind: Sweep, Potential: 500, End: 0, Rate: 250}
	assert.Equal(t, 2*time.Second, st.SweepTime())

	st = Step{Kind: Hold}
	assert.Equal(t, time.Duration(0), st.SweepTime())
}

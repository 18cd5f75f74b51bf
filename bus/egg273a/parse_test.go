package egg273a

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCurrent(t *testing.T) {
	v, err := parseCurrent("10,-2")
	assert.NoError(t, err)
	assert.InDelta(t, 0.1, v, 1e-12)

	v, err = parseCurrent(" -2.5 , 3 \r\n")
	assert.NoError(t, err)
	assert.InDelta(t, -2500, v, 1e-9)

	_, err = parseCurrent("10")
	assert.Error(t, err)

	_, err = parseCurrent("a,b")
	assert.Error(t, err)
}

func TestParsePotential(t *testing.T) {
	v, err := parsePotential("-123.5\r\n")
	assert.NoError(t, err)
	assert.InDelta(t, -123.5, v, 1e-12)

	_, err = parsePotential("nope")
	assert.Error(t, err)
}

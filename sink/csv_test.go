package sink

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/gpot/run"
)

func TestCSV(t *testing.T) {
	dir := t.TempDir()

	c, err := NewCSV(dir, "alice", "corrosion", "scan")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alice", "corrosion", "scan_001.csv"), c.Path())

	assert.NoError(t, c.Sample(run.Sample{Time: 250 * time.Millisecond, Step: 0, Potential: 100, Current: 1e-4}))
	assert.NoError(t, c.Sample(run.Sample{Time: 500 * time.Millisecond, Step: 1, Potential: 200, Current: 2e-4}))

	// non-terminal statuses keep the file open
	assert.NoError(t, c.Status(run.Status{Step: 1}))
	assert.NoError(t, c.Sample(run.Sample{Time: 750 * time.Millisecond, Step: 1, Potential: 300, Current: 3e-4}))

	assert.NoError(t, c.Status(run.Status{Done: true, Outcome: run.Completed}))
	assert.Error(t, c.Sample(run.Sample{}))

	data, err := ioutil.ReadFile(c.Path())
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "Time (s),Step,Voltage (mV),Current (A)", lines[0])
	assert.Equal(t, "0.250,0,100,0.0001", lines[1])
}

func TestCSV_IncrementsIndex(t *testing.T) {
	dir := t.TempDir()

	a, err := NewCSV(dir, "alice", "corrosion", "scan")
	assert.NoError(t, err)
	assert.NoError(t, a.Status(run.Status{Done: true}))

	b, err := NewCSV(dir, "alice", "corrosion", "scan")
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(b.Path(), "scan_002.csv"))

	// a different experiment starts back at 001
	c, err := NewCSV(dir, "alice", "corrosion", "other")
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(c.Path(), "other_001.csv"))
}

func TestCSV_RejectsBadPathElements(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCSV(dir, "../evil", "p", "e")
	assert.Error(t, err)
	_, err = NewCSV(dir, "u", "", "e")
	assert.Error(t, err)
}

// Package sink provides consumers for the engine's sample stream: a
// per-run CSV writer and a channel feed for live streaming.
package sink

import (
	"encoding/csv"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/mastercactapus/gpot/run"
)

var csvNumPat = regexp.MustCompile(`_(\d+)\.csv$`)

// CSV writes one tabular file per run under
// <dir>/<user>/<project>/<experiment>_NNN.csv, picking the next free
// index for the experiment name.
type CSV struct {
	mx     sync.Mutex
	f      *os.File
	w      *csv.Writer
	path   string
	closed bool
}

var _ run.Sink = &CSV{}

// NewCSV creates the run's data file and writes the header row.
func NewCSV(dir, user, project, experiment string) (*CSV, error) {
	for _, name := range []string{user, project, experiment} {
		if name == "" || filepath.Base(name) != name {
			return nil, fmt.Errorf("invalid path element '%s'", name)
		}
	}
	projectDir := filepath.Join(dir, user, project)
	err := os.MkdirAll(projectDir, 0755)
	if err != nil {
		return nil, err
	}

	next := 1
	files, err := ioutil.ReadDir(projectDir)
	if err != nil {
		return nil, err
	}
	for _, fi := range files {
		if fi.IsDir() || !csvNumPat.MatchString(fi.Name()) {
			continue
		}
		base := csvNumPat.ReplaceAllString(fi.Name(), "")
		if base != experiment {
			continue
		}
		n, _ := strconv.Atoi(csvNumPat.FindStringSubmatch(fi.Name())[1])
		if n >= next {
			next = n + 1
		}
	}

	path := filepath.Join(projectDir, fmt.Sprintf("%s_%03d.csv", experiment, next))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	err = w.Write([]string{"Time (s)", "Step", "Voltage (mV)", "Current (A)"})
	if err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	return &CSV{f: f, w: w, path: path}, nil
}

// Path is the file this sink writes to.
func (c *CSV) Path() string { return c.path }

// Sample appends one row and flushes so a crash mid-run loses at most
// the in-flight sample.
func (c *CSV) Sample(s run.Sample) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return fmt.Errorf("'%s' already closed", c.path)
	}
	err := c.w.Write([]string{
		strconv.FormatFloat(s.Time.Seconds(), 'f', 3, 64),
		strconv.Itoa(s.Step),
		strconv.FormatFloat(s.Potential, 'g', -1, 64),
		strconv.FormatFloat(s.Current, 'g', -1, 64),
	})
	if err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Status closes the file once the run reaches a terminal state.
func (c *CSV) Status(st run.Status) error {
	if !st.Done {
		return nil
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

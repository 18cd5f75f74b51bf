package sink

import (
	"errors"

	"github.com/mastercactapus/gpot/run"
)

// Update is one item on a Feed: exactly one of Sample or Status is set.
type Update struct {
	Sample *run.Sample `json:"sample,omitempty"`
	Status *run.Status `json:"status,omitempty"`
}

// Feed fans the engine's stream out through a bounded channel without
// ever blocking the run. When the consumer lags, samples are dropped
// (reported as a sink error so the engine logs a diagnostic); terminal
// statuses displace the oldest entries instead so they always arrive.
type Feed struct {
	ch chan Update
}

var _ run.Sink = &Feed{}

// NewFeed creates a feed buffering up to n updates.
func NewFeed(n int) *Feed {
	if n < 1 {
		n = 1
	}
	return &Feed{ch: make(chan Update, n)}
}

// C is the consumer side of the feed.
func (f *Feed) C() <-chan Update {
	return f.ch
}

func (f *Feed) Sample(s run.Sample) error {
	select {
	case f.ch <- Update{Sample: &s}:
		return nil
	default:
		return errors.New("feed consumer lagging, sample dropped")
	}
}

func (f *Feed) Status(st run.Status) error {
	u := Update{Status: &st}
	for {
		select {
		case f.ch <- u:
			return nil
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

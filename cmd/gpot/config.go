package main

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/mastercactapus/gpot/method"
)

type config struct {
	// SamplingInterval is the engine's inter-sample wait.
	SamplingInterval method.Duration `json:"sampling_interval"`

	// CommandTimeout bounds every bus exchange.
	CommandTimeout method.Duration `json:"command_timeout"`

	// PollInterval drives the device detection poll.
	PollInterval method.Duration `json:"poll_interval"`

	// Bounds are the instrument-safe method limits.
	Bounds method.BoundsSet `json:"bounds"`
}

func defaultConfig() config {
	return config{
		SamplingInterval: method.Duration(250 * time.Millisecond),
		CommandTimeout:   method.Duration(5 * time.Second),
		PollInterval:     method.Duration(time.Second),
		Bounds:           method.DefaultBounds(),
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(data, &cfg)
	return cfg, err
}

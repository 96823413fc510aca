// Package config assembles the host-side configuration: the build-selected
// hardware profile overlaid with an optional YAML file. MCU builds skip this
// package and publish the profile constants directly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"sleepcore-go/platform/profile"
	"sleepcore-go/types"
)

// File is the on-disk shape. Fields absent from the YAML keep their profile
// values, so an overlay only has to name what it changes.
type File struct {
	Power     types.PowerConfig     `yaml:"power"`
	Signal    types.SignalConfig    `yaml:"signal"`
	Heartbeat types.HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig         `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load returns the selected profile overlaid with the YAML file at path. An
// empty path means profile defaults only. Unknown fields are rejected to
// catch typos; out-of-range values are clamped, not rejected.
func Load(path string) (File, error) {
	p := profile.Selected()
	cfg := File{
		Power:   p.Power,
		Signal:  p.Signal,
		Logging: LoggingConfig{Level: "info"},
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return File{}, fmt.Errorf("decode config yaml: %w", err)
		}
		if err := dec.Decode(new(struct{})); !errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("decode config yaml: unexpected trailing document")
		}
	}

	cfg.Power.Normalize()
	cfg.Signal.Normalize()
	cfg.Heartbeat.Normalize()
	return cfg, nil
}

// Package tablestoreconfig loads an optional YAML overlay for Batcher
// flush thresholds, with an optional file-watch hot-reload. It is additive
// sugar over the functional options the root package exposes directly —
// nothing in the core requires a config file to exist.
package tablestoreconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration accepts either a YAML string ("30s", "5m") or a bare integer
// (nanoseconds), the way most Go YAML configs in the wild are written.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = duration(time.Duration(n))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration node: %s", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// BatcherOverlay mirrors the subset of a Batcher's tunables that are safe
// to change live, without tearing down the Batcher: the flush triggers.
// Fields are pointers so an absent YAML key leaves the running value alone.
type BatcherOverlay struct {
	FlushAtCount *int      `yaml:"flush_at_count"`
	FlushAtBytes *int      `yaml:"flush_at_bytes"`
	FlushEvery   *duration `yaml:"flush_every"`
}

// overlayFile is the on-disk shape: a single top-level "batcher" section.
// Additional top-level sections can be added without breaking existing
// files, the same forward-compatible posture yaml.v3 gives struct tags.
type overlayFile struct {
	Batcher BatcherOverlay `yaml:"batcher"`
}

// Load reads and parses path into a BatcherOverlay. A missing file is not
// an error — it returns a zero-value overlay, the way an absent config.yaml
// leaves every setting at its constructor default.
func Load(path string) (*BatcherOverlay, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &BatcherOverlay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tablestoreconfig: read %s: %w", path, err)
	}
	var f overlayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tablestoreconfig: parse %s: %w", path, err)
	}
	return &f.Batcher, nil
}

// Thresholds extracts plain values from the overlay, substituting 0 for any
// field left unset (a caller applying these treats 0 as "leave unchanged").
func (o *BatcherOverlay) Thresholds() (flushAtCount, flushAtBytes int, flushEvery time.Duration) {
	if o == nil {
		return 0, 0, 0
	}
	if o.FlushAtCount != nil {
		flushAtCount = *o.FlushAtCount
	}
	if o.FlushAtBytes != nil {
		flushAtBytes = *o.FlushAtBytes
	}
	if o.FlushEvery != nil {
		flushEvery = time.Duration(*o.FlushEvery)
	}
	return
}

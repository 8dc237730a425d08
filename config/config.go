// Package config reads the detection configuration: an INI file whose sections are flattened
// into one key space, a secrets file, per monitor overrides and zones, and the ML and stream
// options derived from them.
package config

import (
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/zmeventnotification/zmdetect/detection"
)

// Config is a flattened detection configuration.
type Config struct {
	// Path is the file the configuration was read from.
	Path string
	// MonitorID is the monitor whose section was applied, if any.
	MonitorID string
	// Polygons are the detection zones of the monitor.
	Polygons []detection.Polygon

	values  map[string]string
	secrets map[string]string
}

// New returns a configuration holding the defaults overridden by values.
func New(values map[string]string) *Config {
	cfg := &Config{values: lo.Assign(defaultValues)}
	for k, v := range values {
		cfg.values[strings.ToLower(k)] = v
	}
	return cfg
}

// Get returns the value of key and whether it is set.
func (cfg *Config) Get(key string) (string, bool) {
	v, ok := cfg.values[strings.ToLower(key)]
	return v, ok
}

// String returns the value of key, or the empty string.
func (cfg *Config) String(key string) string {
	v, _ := cfg.Get(key)
	return v
}

// Set overrides the value of key.
func (cfg *Config) Set(key, value string) {
	cfg.values[strings.ToLower(key)] = value
}

// Bool is true when key is set to "yes" (or any value strconv considers true).
func (cfg *Config) Bool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(cfg.String(key)))
	return v == "yes" || cast.ToBool(v)
}

// Int returns the integer value of key, or def when it is unset or not a number.
func (cfg *Config) Int(key string, def int) int {
	v, err := cast.ToIntE(strings.TrimSpace(cfg.String(key)))
	if err != nil {
		return def
	}
	return v
}

// Float returns the float value of key, or def when it is unset or not a number.
func (cfg *Config) Float(key string, def float64) float64 {
	v, err := cast.ToFloat64E(strings.TrimSpace(cfg.String(key)))
	if err != nil {
		return def
	}
	return v
}

// List splits a comma separated value, dropping empty items.
func (cfg *Config) List(key string) []string {
	return splitList(cfg.String(key))
}

func splitList(s string) []string {
	items := lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Compact(items)
}

// Keys returns the sorted configuration keys.
func (cfg *Config) Keys() []string {
	return slices.Sorted(maps.Keys(cfg.values))
}

// Secret returns a value of the secrets file.
func (cfg *Config) Secret(name string) (string, bool) {
	v, ok := cfg.secrets[strings.ToLower(name)]
	return v, ok
}

// AddPolygons appends zones, skipping the ones whose name is already declared.
func (cfg *Config) AddPolygons(polygons ...detection.Polygon) {
	for _, p := range polygons {
		if lo.ContainsBy(cfg.Polygons, func(existing detection.Polygon) bool { return existing.Name == p.Name }) {
			continue
		}
		cfg.Polygons = append(cfg.Polygons, p)
	}
}

// Package config provides layered, typed configuration lookup. Values are
// grouped into sections and resolved across sources, with the source added
// last taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Source supplies raw configuration values grouped by section.
type Source interface {
	Reload() error
	Find(section, key string) (any, bool)
}

// FileSource reads a YAML document of the form section -> key -> scalar.
type FileSource struct {
	path string
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewFileSource loads the file at path immediately and fails if it cannot
// be read or parsed.
func NewFileSource(path string) (*FileSource, error) {
	fs := &FileSource{path: path}
	if err := fs.Reload(); err != nil {
		return nil, err
	}

	return fs, nil
}

// Reload re-reads the backing file, replacing the previous contents only on
// success.
func (f *FileSource) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", f.path, err)
	}

	data := make(map[string]map[string]any)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse config %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.data = data
	f.mu.Unlock()

	return nil
}

// Find returns the raw value for section/key.
func (f *FileSource) Find(section, key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sec, ok := f.data[section]
	if !ok {
		return nil, false
	}
	v, ok := sec[key]

	return v, ok
}

// StaticSource is an in-memory source, useful for defaults and tests.
type StaticSource map[string]map[string]any

// Reload is a no-op for in-memory data.
func (s StaticSource) Reload() error { return nil }

// Find returns the raw value for section/key.
func (s StaticSource) Find(section, key string) (any, bool) {
	sec, ok := s[section]
	if !ok {
		return nil, false
	}
	v, ok := sec[key]

	return v, ok
}

// Config resolves typed lookups across layered sources.
type Config struct {
	mu      sync.RWMutex
	sources []Source
}

// New returns a Config with no sources.
func New() *Config {
	return &Config{}
}

// AddSource appends a source. Later sources override earlier ones.
func (c *Config) AddSource(src Source) {
	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
}

// ClearSources removes all sources.
func (c *Config) ClearSources() {
	c.mu.Lock()
	c.sources = nil
	c.mu.Unlock()
}

// ReloadAll reloads every source, returning the joined errors of those that
// failed. Sources that fail keep their previous contents.
func (c *Config) ReloadAll() error {
	c.mu.RLock()
	sources := make([]Source, len(c.sources))
	copy(sources, c.sources)
	c.mu.RUnlock()

	var errs []error
	for _, src := range sources {
		if err := src.Reload(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Config) find(section, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.sources) - 1; i >= 0; i-- {
		if v, ok := c.sources[i].Find(section, key); ok {
			return v, true
		}
	}

	return nil, false
}

// Value constrains the types Get can produce.
type Value interface {
	bool | int | int64 | float64 | string | time.Duration
}

// Get resolves section/key to a typed value, converting tolerant scalar
// forms (a YAML string "8080" satisfies an int lookup, "5s" a Duration).
// Bare integers requested as Duration are taken as milliseconds. The second
// return is false when the key is absent or inconvertible.
func Get[T Value](c *Config, section, key string) (T, bool) {
	var out T

	raw, found := c.find(section, key)
	if !found {
		return out, false
	}

	ok := false
	switch p := any(&out).(type) {
	case *bool:
		*p, ok = toBool(raw)
	case *int:
		var v int64
		v, ok = toInt(raw)
		*p = int(v)
	case *int64:
		*p, ok = toInt(raw)
	case *float64:
		*p, ok = toFloat(raw)
	case *string:
		*p, ok = toString(raw)
	case *time.Duration:
		*p, ok = toDuration(raw)
	}

	if !ok {
		var zero T
		return zero, false
	}

	return out, true
}

func toBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}

func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return "", false
	}
}

func toDuration(raw any) (time.Duration, bool) {
	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	case int:
		return time.Duration(v) * time.Millisecond, true
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		if v == float64(int64(v)) {
			return time.Duration(v) * time.Millisecond, true
		}
		return 0, false
	default:
		return 0, false
	}
}

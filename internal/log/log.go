// Package log provides a shared op-logging backend for mailbox components,
// keyed by component name the way core/log.Backend is used across the
// katzenpost tree (logBackend.GetLogger(name)).
package log

import (
	"fmt"
	"io"
	"strings"
	"sync"

	logging "gopkg.in/op/go-logging.v1"
)

// DefaultLevels is the fallback verbosity string used when no override is
// supplied, matching the convention of naming one default level per
// component ("server=debug, http=debug").
const DefaultLevels = "server=debug, http=debug"

var defaultFormat = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{level:.4s} %{module}: %{color:reset}%{message}",
)

// Backend owns the op-logging backend and hands out per-component loggers
// at the verbosity configured for that component.
type Backend struct {
	mu     sync.Mutex
	levels map[string]logging.Level
	def    logging.Level
	leveled logging.LeveledBackend
}

// New parses a comma-separated "component=level" string (falling back to
// DefaultLevels when levels is empty) and returns a Backend writing to w.
func New(w io.Writer, levels string) (*Backend, error) {
	if levels == "" {
		levels = DefaultLevels
	}
	backend := logging.NewLogBackend(w, "", 0)
	formatter := logging.NewBackendFormatter(backend, defaultFormat)

	b := &Backend{
		levels:  make(map[string]logging.Level),
		def:     logging.INFO,
		leveled: logging.AddModuleLevel(formatter),
	}
	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("log: malformed level spec %q", part)
		}
		lvl, err := logging.LogLevel(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("log: %s: %w", kv[0], err)
		}
		name := strings.TrimSpace(kv[0])
		b.levels[name] = lvl
		b.leveled.SetLevel(lvl, name)
	}
	logging.SetBackend(b.leveled)
	return b, nil
}

// GetLogger returns a named logger at the level configured for name,
// falling back to INFO if name has no explicit entry.
func (b *Backend) GetLogger(name string) *logging.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.levels[name]; !ok {
		b.leveled.SetLevel(b.def, name)
	}
	return logging.MustGetLogger(name)
}

// NewDiscard returns a Backend that discards everything, for tests.
func NewDiscard() *Backend {
	b, _ := New(io.Discard, "server=critical, http=critical")
	return b
}

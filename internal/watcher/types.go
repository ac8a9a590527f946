package watcher

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/nexus/internal/config"
)

// Operation is the net change to a path after coalescing.
type Operation int

const (
	// OpCreate is a path that did not exist before the batch.
	OpCreate Operation = iota
	// OpModify is an existing file whose content may have changed.
	OpModify
	// OpDelete is a path that no longer exists.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one absolute path.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must stay quiet before its
	// coalesced event is emitted. Default: 2s
	DebounceWindow time.Duration

	// IgnorePatterns are doublestar globs matched against base names.
	IgnorePatterns []string

	// Exclude lists absolute directories whose events are dropped, such as
	// the store root.
	Exclude []string

	// Ignore, when set, drops any path for which it returns true.
	Ignore func(path string) bool

	// BatchBuffer is how many batches may wait for the consumer.
	// Default: 16
	BatchBuffer int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 2 * time.Second,
		IgnorePatterns: []string{"*.tmp", "*.swp", "*~", ".#*", "*.lock"},
		BatchBuffer:    16,
	}
}

// OptionsFrom builds Options from the watch section.
func OptionsFrom(cfg config.WatchConfig) (Options, error) {
	opts := DefaultOptions()
	if cfg.Debounce != "" {
		d, err := time.ParseDuration(cfg.Debounce)
		if err != nil {
			return opts, fmt.Errorf("watch.debounce: %w", err)
		}
		opts.DebounceWindow = d
	}
	if cfg.IgnorePatterns != nil {
		opts.IgnorePatterns = cfg.IgnorePatterns
	}
	return opts, nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.BatchBuffer <= 0 {
		o.BatchBuffer = defaults.BatchBuffer
	}
	return o
}

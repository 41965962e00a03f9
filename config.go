//go:build unix

package kqio

import (
	"sync/atomic"
)

// ErrorPolicy selects how op failures are delivered.
type ErrorPolicy uint32
const (
	ReturnCodes ErrorPolicy = iota // caller inspects (rc, errno); default
	Exceptions                     // failures additionally return *OpError
)

// ThreadPolicy selects what happens when a File/Socket is driven by a task
// that does not belong to its runtime.
type ThreadPolicy uint32
const (
	Silent ThreadPolicy = iota
	Warn
	Fatal
)

// Config is process-wide. All fields are settable at startup; switching the
// error policy mid-flight is permitted and affects subsequent ops only.
type Config struct {
	ErrorPolicy			ErrorPolicy
	ReadCacheSize		int // bytes, rounded down to whole blocks; 0 disables
	Multithread			ThreadPolicy
	// The original runtime computed timer durations as s*1000 + ms + ns/1000,
	// conflating microseconds with milliseconds. The corrected ns/1e6 formula
	// is the default; this restores the old behavior.
	LegacyTimerUnits	bool
}

var config atomic.Pointer[Config]

func init() {
	config.Store(&Config{})
}

func Configure(cfg Config) {
	config.Store(&cfg)
	// sanity probe: the active policy must map a clean return to success
	if err := check("configure", 0, 0); err != nil {
		panic("kqio: error policy rejects a clean return")
	}
}

func CurrentConfig() Config {
	return *config.Load()
}

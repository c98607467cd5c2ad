// Package debug carries the two diagnostic outputs of the module: transport
// tracing, switched on with ACTIONSOCKET_DEBUG, and the Debugger sink that
// components receive explicitly.
package debug

import (
	"log"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	Debug bool `env:"ACTIONSOCKET_DEBUG"`
}

var enabled atomic.Bool

func init() {
	var cfg envConfig
	// A malformed value leaves tracing off.
	if err := env.Parse(&cfg); err == nil {
		enabled.Store(cfg.Debug)
	}
}

func Printf(format string, v ...any) {
	if enabled.Load() {
		log.Printf(format, v...)
	}
}

func Enabled() bool { return enabled.Load() }

func Enable() { enabled.Store(true) }

func Disable() { enabled.Store(false) }

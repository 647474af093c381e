//go:build govips && cgo

package pipeline

import (
	"errors"
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips is process global: it is started at most once and may be stopped
// once, after which static recolors cannot run again.
var vipsState struct {
	sync.Mutex
	running bool
	stopped bool
}

// Startup brings libvips up for the static path. Recolor calls are one-shot
// buffers, so the operation cache is kept small and file caching is off.
func Startup() error {
	vipsState.Lock()
	defer vipsState.Unlock()
	if vipsState.stopped {
		return errors.New("libvips was shut down and cannot be restarted")
	}
	if vipsState.running {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: max(1, runtime.NumCPU()/2),
		MaxCacheFiles:    0,
		MaxCacheMem:      32 << 20,
		MaxCacheSize:     16,
	})
	vipsState.running = true
	return nil
}

func Shutdown() {
	vipsState.Lock()
	defer vipsState.Unlock()
	if !vipsState.running {
		return
	}
	vips.Shutdown()
	vipsState.running = false
	vipsState.stopped = true
}

func newStaticBackend() (staticBackend, error) {
	vipsState.Lock()
	defer vipsState.Unlock()
	if !vipsState.running {
		return nil, errors.New("libvips is not running; call pipeline.Startup first")
	}
	return govipsBackend{}, nil
}

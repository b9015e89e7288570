//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// CodecName reports which codec NewTransformer builds.
const CodecName = "govips"

var (
	vipsMu      sync.Mutex
	vipsStarted bool
)

// Startup brings up libvips once. libvips only decodes and encodes here and
// pixel work runs in Go, so its cache stays small and each call gets one
// thread. Callers supply the parallelism.
func Startup() error {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if vipsStarted {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      16 * 1024 * 1024,
		MaxCacheSize:     8,
	})
	vipsStarted = true
	return nil
}

func Shutdown() {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if !vipsStarted {
		return
	}
	vips.Shutdown()
	vipsStarted = false
}

func newCodec() (Codec, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsCodec{}, nil
}

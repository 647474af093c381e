//go:build !govips || !cgo

package pipeline

// Startup is a no-op without libvips; the static path runs on gift.
func Startup() error {
	return nil
}

func Shutdown() {}

func newStaticBackend() (staticBackend, error) {
	return giftBackend{}, nil
}

package capture

import (
	"context"
	"errors"
	"image"
)

// Sentinel errors for screen capture.
var (
	ErrUnsupported      = errors.New("screen sharing not supported in this environment")
	ErrPermissionDenied = errors.New("screen sharing permission denied")
	ErrNotActive        = errors.New("screen sharing not active")
	ErrNoScreenshot     = errors.New("no screenshot stored")
)

// Default capture resolution.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Constraints describes the requested capture stream. Audio is never captured.
type Constraints struct {
	Width  int
	Height int
	Audio  bool
	// Target names what to capture, e.g. the workbench URL of a challenge.
	Target string
}

// Source acquires capture streams. Acquire may block while the user grants
// or denies consent.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture handle.
type Stream interface {
	// Frame blocks until a frame is available and returns it.
	Frame(ctx context.Context) (image.Image, error)
	// Done is closed when sharing ends outside of Stop, e.g. through the
	// platform's own controls.
	Done() <-chan struct{}
	// Stop releases every underlying track. Idempotent.
	Stop()
}

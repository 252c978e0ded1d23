package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Result reports the outcome of a capture operation without failing the caller.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Path    string `json:"path,omitempty"`
}

func ok() Result { return Result{Success: true} }

func fail(err error) Result { return Result{Success: false, Error: err.Error()} }

// State is a snapshot of the service.
type State struct {
	IsActive bool   `json:"isActive"`
	Stream   Stream `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Service owns one capture stream and at most one stored screenshot.
// One instance serves one tab.
type Service struct {
	source Source
	dir    string
	log    zerolog.Logger

	mu         sync.Mutex
	stream     Stream
	isActive   bool
	screenshot []byte
	lastErr    string
	watchStop  chan struct{}
}

// NewService creates a Service. dir receives manual screenshot downloads.
func NewService(source Source, dir string, log zerolog.Logger) *Service {
	return &Service{
		source: source,
		dir:    dir,
		log:    log.With().Str("component", "capture").Logger(),
	}
}

// StartScreenShare acquires a 1920x1080 video-only stream of target.
// A stream that ends natively resets the service as if stopped.
func (s *Service) StartScreenShare(ctx context.Context, target string) Result {
	if s.source == nil {
		return s.recordFailure(ErrUnsupported)
	}

	stream, err := s.source.Acquire(ctx, Constraints{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Audio:  false,
		Target: target,
	})
	if err != nil {
		return s.recordFailure(err)
	}

	s.mu.Lock()
	s.resetLocked()
	stop := make(chan struct{})
	s.stream = stream
	s.isActive = true
	s.lastErr = ""
	s.watchStop = stop
	s.mu.Unlock()

	go s.watch(stream, stop)

	s.log.Info().Str("target", target).Msg("Screen share started")
	return ok()
}

// watch mirrors a native end of sharing into StopScreenShare.
func (s *Service) watch(stream Stream, stop <-chan struct{}) {
	select {
	case <-stream.Done():
		s.mu.Lock()
		current := s.stream == stream
		if current {
			s.resetLocked()
		}
		s.mu.Unlock()
		if current {
			s.log.Info().Msg("Screen share ended by user")
		}
	case <-stop:
	}
}

// TakeScreenshot captures one PNG still and keeps it in memory, replacing
// any previous one. It blocks until the stream yields its first frame.
func (s *Service) TakeScreenshot(ctx context.Context, challengeID string) Result {
	s.mu.Lock()
	stream := s.stream
	active := s.isActive
	s.mu.Unlock()

	if stream == nil || !active {
		return fail(ErrNotActive)
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		return s.recordFailure(fmt.Errorf("capture frame: %w", err))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return s.recordFailure(fmt.Errorf("encode screenshot: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != stream {
		return fail(ErrNotActive)
	}
	s.screenshot = buf.Bytes()

	b := frame.Bounds()
	s.log.Info().
		Str("challenge_id", challengeID).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Int("bytes", buf.Len()).
		Msg("Screenshot captured")
	return ok()
}

// StoredScreenshot returns the stored PNG, or nil.
func (s *Service) StoredScreenshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshot
}

// DownloadStoredScreenshot writes the stored PNG into the download directory.
// Debug affordance only; the submission path never calls it.
func (s *Service) DownloadStoredScreenshot(challengeID string) Result {
	shot := s.StoredScreenshot()
	if shot == nil {
		return fail(ErrNoScreenshot)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fail(fmt.Errorf("create screenshot dir: %w", err))
	}

	filename := fmt.Sprintf("proctoring-screenshot-%s-%d.png", challengeID, time.Now().UnixMilli())
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		return fail(fmt.Errorf("write screenshot: %w", err))
	}

	return Result{Success: true, Path: path}
}

// StopScreenShare stops the stream and discards the stored screenshot in
// one reset. Safe to call repeatedly.
func (s *Service) StopScreenShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Service) resetLocked() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
	s.isActive = false
	s.screenshot = nil
}

// State returns a snapshot of the service.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{IsActive: s.isActive, Stream: s.stream, Error: s.lastErr}
}

// IsScreenSharingActive reports whether a live stream is held.
func (s *Service) IsScreenSharingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive && s.stream != nil
}

// HasStoredScreenshot reports whether a still is available for grading.
func (s *Service) HasStoredScreenshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshot != nil
}

func (s *Service) recordFailure(err error) Result {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("Capture operation failed")
	return fail(err)
}

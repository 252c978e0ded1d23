package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// RodConfig configures the headless browser behind RodSource.
type RodConfig struct {
	// ControlURL attaches to a running Chrome; empty launches a new one.
	ControlURL        string
	Bin               string
	Headless          bool
	NavigationTimeout time.Duration
}

// RodSource captures a page rendered by headless Chromium. Each Acquire
// opens the target in a fresh page sized to the requested resolution.
type RodSource struct {
	cfg RodConfig
	log zerolog.Logger
}

// NewRodSource creates a RodSource.
func NewRodSource(cfg RodConfig, log zerolog.Logger) *RodSource {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &RodSource{cfg: cfg, log: log.With().Str("component", "rod_source").Logger()}
}

func (s *RodSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if c.Target == "" {
		return nil, fmt.Errorf("%w: no capture target", ErrUnsupported)
	}

	var l *launcher.Launcher
	controlURL := s.cfg.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(s.cfg.Headless)
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch browser: %v", ErrUnsupported, err)
		}
		controlURL = u
	}

	bctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(bctx)
	if err := browser.Connect(); err != nil {
		cancel()
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("%w: connect browser: %v", ErrUnsupported, err)
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: c.Target})
	if err != nil {
		cancel()
		s.release(browser, nil, l)
		return nil, fmt.Errorf("open capture target: %w", err)
	}
	page = page.Context(bctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             c.Width,
		Height:            c.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.log.Warn().Err(err).Msg("Failed to set capture viewport")
	}

	// Target lifecycle events let us notice the page being closed.
	_ = proto.TargetSetDiscoverTargets{Discover: true}.Call(browser)

	st := &rodStream{
		source:   s,
		browser:  browser,
		page:     page,
		launcher: l,
		cancel:   cancel,
		navWait:  s.cfg.NavigationTimeout,
		done:     make(chan struct{}),
	}
	go st.watch()

	return st, nil
}

func (s *RodSource) release(browser *rod.Browser, page *rod.Page, l *launcher.Launcher) {
	if page != nil {
		_ = page.Close()
	}
	if l != nil {
		_ = browser.Close()
		l.Kill()
		l.Cleanup()
	}
}

type rodStream struct {
	source   *RodSource
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	cancel   context.CancelFunc
	navWait  time.Duration

	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func (st *rodStream) watch() {
	wait := st.browser.EachEvent(func(e *proto.TargetTargetDestroyed) bool {
		return e.TargetID == st.page.TargetID
	})
	wait()
	st.doneOnce.Do(func() { close(st.done) })
}

// Frame waits for the page to finish loading, then screenshots the viewport.
func (st *rodStream) Frame(ctx context.Context) (image.Image, error) {
	select {
	case <-st.done:
		return nil, ErrNotActive
	default:
	}

	page := st.page.Context(ctx)
	if err := page.Timeout(st.navWait).WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for first frame: %w", err)
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (st *rodStream) Done() <-chan struct{} {
	return st.done
}

func (st *rodStream) Stop() {
	st.stopOnce.Do(func() {
		st.source.release(st.browser, st.page, st.launcher)
		st.cancel()
	})
}

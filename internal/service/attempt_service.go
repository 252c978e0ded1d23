package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/capture"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/submission"
)

// ErrNoActiveAttempt is returned when the tab has not entered a challenge.
var ErrNoActiveAttempt = errors.New("no active attempt")

// AttemptConfig configures AttemptService.
type AttemptConfig struct {
	// WorkbenchURL is the base URL of the challenge workbench; the
	// challenge ID is appended to form the capture target.
	WorkbenchURL  string
	ScreenshotDir string
	DisplayDelay  time.Duration
	// MaxAge bounds how long an attempt is kept before Reap closes it.
	MaxAge time.Duration
}

type tabAttempt struct {
	attempt   *submission.Attempt
	capture   *capture.Service
	stopWatch context.CancelFunc
	startedAt time.Time
}

// AttemptService owns the single in-flight attempt of each tab together
// with that tab's capture service.
type AttemptService struct {
	repo   *repository.ChallengeRepository
	store  submission.SessionStore
	grader submission.Grader
	bus    events.Bus
	source capture.Source
	cfg    AttemptConfig
	base   zerolog.Logger
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*tabAttempt

	watchMu  sync.Mutex
	nextWID  int
	watchers map[string]map[int]chan submission.Status
}

func NewAttemptService(
	repo *repository.ChallengeRepository,
	st submission.SessionStore,
	grader submission.Grader,
	bus events.Bus,
	source capture.Source,
	cfg AttemptConfig,
	log zerolog.Logger,
) *AttemptService {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &AttemptService{
		repo:     repo,
		store:    st,
		grader:   grader,
		bus:      bus,
		source:   source,
		cfg:      cfg,
		base:     log,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
		attempts: make(map[string]*tabAttempt),
		watchers: make(map[string]map[int]chan submission.Status),
	}
}

// Start enters a challenge for the tab, replacing any previous attempt.
func (s *AttemptService) Start(ctx context.Context, tabID, challengeID string) (*submission.Attempt, error) {
	challenge, err := s.repo.GetByID(challengeID)
	if err != nil {
		return nil, err
	}

	tabLog := s.base.With().Str("tab_id", tabID).Logger()
	capSvc := capture.NewService(s.source, s.cfg.ScreenshotDir, tabLog)
	attempt := submission.NewAttempt(tabID, *challenge, submission.Deps{
		Capturer: capSvc,
		Grader:   s.grader,
		Store:    s.store,
		Bus:      s.bus,
		Navigator: submission.NavigatorFunc(func(u string) {
			tabLog.Info().Str("redirect", u).Msg("Attempt finished")
		}),
		CaptureTarget: s.captureTarget(challenge.ID),
		DisplayDelay:  s.cfg.DisplayDelay,
		Log:           s.base,
	})

	watchCtx, stopWatch := context.WithCancel(context.Background())
	updates := attempt.Observe(watchCtx)
	go s.forward(tabID, updates)

	entry := &tabAttempt{attempt: attempt, capture: capSvc, stopWatch: stopWatch, startedAt: s.now()}

	s.mu.Lock()
	prev := s.attempts[tabID]
	s.attempts[tabID] = entry
	s.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	if err := attempt.Enter(ctx); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *AttemptService) captureTarget(challengeID string) string {
	target, err := url.JoinPath(s.cfg.WorkbenchURL, challengeID)
	if err != nil {
		return s.cfg.WorkbenchURL
	}
	return target
}

// Get returns the tab's current attempt.
func (s *AttemptService) Get(tabID string) (*submission.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.attempts[tabID]
	if !ok {
		return nil, ErrNoActiveAttempt
	}
	return entry.attempt, nil
}

// Screenshot returns the tab's stored proctoring screenshot.
func (s *AttemptService) Screenshot(tabID string) ([]byte, error) {
	entry, err := s.entryOf(tabID)
	if err != nil {
		return nil, err
	}
	shot := entry.capture.StoredScreenshot()
	if shot == nil {
		return nil, capture.ErrNoScreenshot
	}
	return shot, nil
}

// SaveScreenshot writes the stored screenshot into the screenshot directory.
func (s *AttemptService) SaveScreenshot(tabID string) (capture.Result, error) {
	entry, err := s.entryOf(tabID)
	if err != nil {
		return capture.Result{}, err
	}
	return entry.capture.DownloadStoredScreenshot(entry.attempt.Challenge().ID), nil
}

func (s *AttemptService) entryOf(tabID string) (*tabAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.attempts[tabID]
	if !ok {
		return nil, ErrNoActiveAttempt
	}
	return entry, nil
}

// End closes and forgets the tab's attempt.
func (s *AttemptService) End(tabID string) {
	s.mu.Lock()
	entry := s.attempts[tabID]
	delete(s.attempts, tabID)
	s.mu.Unlock()

	if entry != nil {
		entry.close()
	}
}

// Reap closes attempts older than MaxAge and returns how many it closed.
func (s *AttemptService) Reap() int {
	cutoff := s.now().Add(-s.cfg.MaxAge)

	s.mu.Lock()
	var stale []*tabAttempt
	for tabID, entry := range s.attempts {
		if entry.startedAt.Before(cutoff) {
			stale = append(stale, entry)
			delete(s.attempts, tabID)
		}
	}
	s.mu.Unlock()

	for _, entry := range stale {
		entry.close()
	}
	if len(stale) > 0 {
		s.log.Info().Int("count", len(stale)).Msg("Reaped stale attempts")
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is done.
func (s *AttemptService) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}

// ActiveCount reports how many tabs hold an attempt.
func (s *AttemptService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Shutdown closes every attempt.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	entries := s.attempts
	s.attempts = make(map[string]*tabAttempt)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.close()
	}
}

// Subscribe streams status updates of whichever attempt the tab runs,
// across attempt replacements, until ctx is done.
func (s *AttemptService) Subscribe(ctx context.Context, tabID string) <-chan submission.Status {
	ch := make(chan submission.Status, 16)

	s.watchMu.Lock()
	id := s.nextWID
	s.nextWID++
	if s.watchers[tabID] == nil {
		s.watchers[tabID] = make(map[int]chan submission.Status)
	}
	s.watchers[tabID][id] = ch
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers[tabID], id)
		if len(s.watchers[tabID]) == 0 {
			delete(s.watchers, tabID)
		}
		close(ch)
		s.watchMu.Unlock()
	}()

	return ch
}

func (s *AttemptService) forward(tabID string, updates <-chan submission.Status) {
	for st := range updates {
		s.watchMu.Lock()
		for _, ch := range s.watchers[tabID] {
			select {
			case ch <- st:
			default:
			}
		}
		s.watchMu.Unlock()
	}
}

func (e *tabAttempt) close() {
	e.attempt.Close()
	e.stopWatch()
}

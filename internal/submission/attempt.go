package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/capture"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/model"
)

// Attempt errors.
var (
	ErrAttemptClosed  = errors.New("attempt closed")
	ErrAttemptExpired = errors.New("time is up, submission in progress")
	ErrConsentFailed  = errors.New("screen sharing could not be started")
)

// ResultPath is the results view the attempt redirects to.
const ResultPath = "/result"

// Capturer is the proctoring capture service of one tab.
type Capturer interface {
	StartScreenShare(ctx context.Context, target string) capture.Result
	TakeScreenshot(ctx context.Context, challengeID string) capture.Result
	StoredScreenshot() []byte
	HasStoredScreenshot() bool
	IsScreenSharingActive() bool
	StopScreenShare()
}

// Grader returns a similarity score, falling back on any failure.
type Grader interface {
	GradeAttempt(ctx context.Context, targetURL string, result []byte) int
}

// SessionStore is the subset of the scored-session store an attempt writes.
type SessionStore interface {
	SetChallengeContext(ctx context.Context, tabID, challengeID string, challenge model.Challenge, proctoring *model.ProctoringFlag)
	UpdateProctoringStatus(ctx context.Context, tabID string, screenshotTaken bool)
	ClearProctoringSession(ctx context.Context, tabID string)
	MarkSolved(ctx context.Context, tabID, challengeID string)
	GetAveragePromptScore(ctx context.Context, tabID, challengeID string) float64
}

// Navigator receives the final redirect of an attempt.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

func (f NavigatorFunc) Navigate(url string) { f(url) }

// Deps are the collaborators of an Attempt.
type Deps struct {
	Capturer  Capturer
	Grader    Grader
	Store     SessionStore
	Bus       events.Bus
	Navigator Navigator
	// CaptureTarget is what the capture source should point at.
	CaptureTarget string
	DisplayDelay  time.Duration
	NewTimer      TimerFunc
	Sleep         SleepFunc
	Now           func() time.Time
	Log           zerolog.Logger
}

// Attempt drives one tab through one challenge, from consent to redirect.
type Attempt struct {
	tabID     string
	challenge model.Challenge
	deps      Deps
	log       zerolog.Logger

	mu             sync.Mutex
	state          State
	timer          Timer
	timerStartedAt time.Time
	expired        bool
	autoConfirm    bool
	closed         bool
	dialogSeq      int
	capturedSeq    int
	consentErr     string
	consenting     bool
	captureErr     string
	captured       bool
	outcome        *Outcome

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]chan Status
}

// NewAttempt creates an Attempt in Idle.
func NewAttempt(tabID string, challenge model.Challenge, deps Deps) *Attempt {
	if deps.NewTimer == nil {
		deps.NewTimer = RealTimer
	}
	if deps.Sleep == nil {
		deps.Sleep = RealSleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Navigator == nil {
		deps.Navigator = NavigatorFunc(func(string) {})
	}

	return &Attempt{
		tabID:     tabID,
		challenge: challenge,
		deps:      deps,
		log: deps.Log.With().
			Str("component", "attempt").
			Str("tab_id", tabID).
			Str("challenge_id", challenge.ID).
			Logger(),
		state:     Idle,
		observers: make(map[int]chan Status),
	}
}

func (a *Attempt) Challenge() model.Challenge { return a.challenge }

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Enter opens the consent prompt.
func (a *Attempt) Enter(ctx context.Context) error {
	return a.fire(ctx, EnterChallenge, nil)
}

// AcceptScreenShare asks the capture source for a stream. Unsupported or
// denied sharing keeps the prompt open with the error attached.
func (a *Attempt) AcceptScreenShare(ctx context.Context) (capture.Result, error) {
	if err := a.beginConsent(); err != nil {
		return capture.Result{}, err
	}
	defer func() {
		a.mu.Lock()
		a.consenting = false
		a.mu.Unlock()
	}()

	res := a.deps.Capturer.StartScreenShare(ctx, a.deps.CaptureTarget)
	if !res.Success {
		a.mu.Lock()
		a.consentErr = res.Error
		a.mu.Unlock()
		a.notify(MilestoneConsentFailed)
		return res, fmt.Errorf("%w: %s", ErrConsentFailed, res.Error)
	}

	if err := a.fire(ctx, ConsentAccepted, nil); err != nil {
		a.deps.Capturer.StopScreenShare()
		return res, err
	}
	return res, a.fire(ctx, WorkbenchReady, nil)
}

// Decline closes the consent prompt. The workbench stays inert.
func (a *Attempt) Decline(ctx context.Context) error {
	return a.fire(ctx, ConsentDeclined, nil)
}

// Submit opens the confirmation dialog and runs the pre-submission
// capture. It returns once the capture has finished.
func (a *Attempt) Submit(ctx context.Context) error {
	return a.fire(ctx, Submit, nil)
}

// Cancel closes the confirmation dialog without touching any state.
// It is refused once the timer has expired.
func (a *Attempt) Cancel(ctx context.Context) error {
	return a.fire(ctx, Cancel, func() error {
		if a.expired {
			return ErrAttemptExpired
		}
		return nil
	})
}

// Confirm grades the attempt and redirects to the results view. Once
// started it always runs to completion, regardless of ctx.
func (a *Attempt) Confirm(ctx context.Context) (Outcome, error) {
	if err := a.fire(context.WithoutCancel(ctx), Confirm, nil); err != nil {
		return Outcome{}, err
	}
	return a.Outcome()
}

// Outcome returns the submission result once the attempt is submitted.
func (a *Attempt) Outcome() (Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outcome == nil {
		return Outcome{}, fmt.Errorf("%w: not submitted", ErrInvalidTransition)
	}
	return *a.outcome, nil
}

// Close stops the timer and proctoring. Safe to call repeatedly.
func (a *Attempt) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	a.deps.Capturer.StopScreenShare()

	a.obsMu.Lock()
	for id, ch := range a.observers {
		close(ch)
		delete(a.observers, id)
	}
	a.obsMu.Unlock()
}

// expire is the timer callback. It runs the same exit path as a manual
// submit and confirm.
func (a *Attempt) expire() {
	ctx := context.Background()
	err := a.fire(ctx, TimerExpired, func() error {
		if a.expired {
			return ErrAttemptExpired
		}
		a.expired = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrAttemptClosed) {
			a.log.Warn().Err(err).Msg("Timer expiry ignored")
		}
		return
	}
	a.log.Info().Msg("Timer expired")
}

// beginConsent claims the consent prompt for one AcceptScreenShare call.
func (a *Attempt) beginConsent() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAttemptClosed
	}
	if a.consenting {
		return fmt.Errorf("%w: screen share already being requested", ErrInvalidTransition)
	}
	if _, _, err := Transition(a.state, ConsentAccepted); err != nil {
		return err
	}
	a.consenting = true
	return nil
}

// fire applies ev under the lock, then runs the resulting effects in the
// calling goroutine. guard runs under the lock before the transition.
func (a *Attempt) fire(ctx context.Context, ev Event, guard func() error) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAttemptClosed
	}
	next, effects, err := Transition(a.state, ev)
	if err == nil && guard != nil {
		err = guard()
	}
	if err != nil {
		a.mu.Unlock()
		return err
	}

	prev := a.state
	a.state = next
	if next.DialogOpen() && !prev.DialogOpen() {
		a.dialogSeq++
		a.captureErr = ""
		a.captured = false
	}
	if ev == ConsentAccepted {
		a.consentErr = ""
	}
	a.mu.Unlock()

	a.log.Debug().Str("event", ev.String()).Str("from", prev.String()).Str("to", next.String()).Msg("Transition")
	if prev != next {
		a.notify(MilestoneStateChanged)
	}

	for _, eff := range effects {
		a.run(ctx, eff)
	}
	return nil
}

func (a *Attempt) run(ctx context.Context, eff Effect) {
	switch eff {
	case EffectSaveContext:
		a.deps.Store.SetChallengeContext(ctx, a.tabID, a.challenge.ID, a.challenge, nil)
	case EffectArmProctoring:
		a.deps.Store.SetChallengeContext(ctx, a.tabID, a.challenge.ID, a.challenge, &model.ProctoringFlag{IsActive: true})
	case EffectStartTimer:
		a.startTimer()
	case EffectStopTimer:
		a.stopTimer()
	case EffectCapture:
		a.capture(ctx)
	case EffectAutoConfirm:
		a.requestAutoConfirm(ctx)
	case EffectGrade:
		a.submit(ctx)
	case EffectNavigate:
		a.navigate()
	}
}

func (a *Attempt) startTimer() {
	d := a.challenge.Difficulty.TimerDuration()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		return
	}
	a.timerStartedAt = a.deps.Now()
	a.timer = a.deps.NewTimer(d, a.expire)
	a.log.Info().Dur("duration", d).Msg("Challenge timer started")
}

func (a *Attempt) stopTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
}

// capture takes the pre-submission screenshot once per dialog open.
func (a *Attempt) capture(ctx context.Context) {
	a.mu.Lock()
	seq := a.dialogSeq
	if a.capturedSeq == seq {
		a.mu.Unlock()
		return
	}
	a.capturedSeq = seq
	a.mu.Unlock()

	if err := a.fire(ctx, CaptureStarted, nil); err != nil {
		return
	}
	a.notify(MilestoneCaptureStarted)

	var captureErr string
	if !a.deps.Capturer.IsScreenSharingActive() {
		captureErr = capture.ErrNotActive.Error()
	} else if res := a.deps.Capturer.TakeScreenshot(ctx, a.challenge.ID); !res.Success {
		captureErr = res.Error
	} else {
		a.deps.Store.UpdateProctoringStatus(ctx, a.tabID, true)
	}
	if captureErr != "" {
		a.log.Warn().Str("error", captureErr).Msg("Pre-submission capture failed")
	}

	a.mu.Lock()
	if a.dialogSeq == seq {
		a.captureErr = captureErr
		a.captured = captureErr == ""
	}
	a.mu.Unlock()

	if err := a.fire(ctx, CaptureFinished, nil); err != nil {
		// Dialog was cancelled mid-capture.
		return
	}
	a.notify(MilestoneCaptureFinished)

	a.mu.Lock()
	auto := a.autoConfirm
	a.mu.Unlock()
	if auto {
		a.autoConfirmNow(ctx)
	}
}

func (a *Attempt) requestAutoConfirm(ctx context.Context) {
	a.mu.Lock()
	a.autoConfirm = true
	state := a.state
	a.mu.Unlock()

	if state == SubmissionConfirmPending {
		a.autoConfirmNow(ctx)
	}
}

func (a *Attempt) autoConfirmNow(ctx context.Context) {
	err := a.fire(ctx, Confirm, nil)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		a.log.Warn().Err(err).Msg("Automatic confirm failed")
	}
}

// submit is the submission hook. Each step is isolated so a failure in
// one never prevents the redirect.
func (a *Attempt) submit(ctx context.Context) {
	a.notify(MilestoneGradingStarted)

	quality := model.FallbackSimilarity
	prompt := model.DefaultPromptScore

	a.guard("grade", func() {
		quality = a.grade(ctx)
	})
	a.guard("stop proctoring", func() {
		a.deps.Capturer.StopScreenShare()
		a.deps.Store.ClearProctoringSession(ctx, a.tabID)
	})
	a.guard("mark solved", func() {
		a.deps.Store.MarkSolved(ctx, a.tabID, a.challenge.ID)
	})
	a.guard("publish", func() {
		if a.deps.Bus == nil {
			return
		}
		a.deps.Bus.Publish(ctx, events.SubmitEvent{
			Type:        events.TypeChallengeSubmit,
			TabID:       a.tabID,
			ChallengeID: a.challenge.ID,
			Timestamp:   a.deps.Now().UnixMilli(),
		})
	})
	a.guard("prompt score", func() {
		prompt = a.deps.Store.GetAveragePromptScore(ctx, a.tabID, a.challenge.ID)
	})

	out := Outcome{
		QualityScore: quality,
		PromptScore:  prompt,
		RedirectURL:  fmt.Sprintf("%s?prompt_score=%.1f&quality_score=%d", ResultPath, prompt, quality),
	}
	a.mu.Lock()
	a.outcome = &out
	a.mu.Unlock()

	a.log.Info().Int("quality_score", quality).Float64("prompt_score", prompt).Msg("Grading complete")
	a.notify(MilestoneGradingComplete)

	a.deps.Sleep(ctx, a.deps.DisplayDelay)

	if err := a.fire(ctx, GradingFinished, nil); err != nil {
		// Closed during the display delay; still hand off the result.
		a.log.Warn().Err(err).Msg("Attempt closed before redirect")
		a.navigate()
	}
}

func (a *Attempt) grade(ctx context.Context) int {
	if !a.challenge.HasTargetImage() {
		a.log.Info().Msg("No target image, skipping grading")
		return model.FallbackSimilarity
	}
	shot := a.deps.Capturer.StoredScreenshot()
	if len(shot) == 0 {
		a.log.Info().Msg("No screenshot captured, skipping grading")
		return model.FallbackSimilarity
	}
	return a.deps.Grader.GradeAttempt(ctx, a.challenge.Image, shot)
}

func (a *Attempt) navigate() {
	a.mu.Lock()
	out := a.outcome
	a.mu.Unlock()
	if out == nil {
		return
	}

	a.guard("navigate", func() {
		a.deps.Navigator.Navigate(out.RedirectURL)
	})
	a.notify(MilestoneNavigated)
}

func (a *Attempt) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("step", step).Interface("panic", r).Msg("Submission step failed")
		}
	}()
	fn()
}

// Snapshot returns the current status.
func (a *Attempt) Snapshot() Status {
	return a.status(MilestoneStateChanged)
}

func (a *Attempt) status(milestone string) Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		TabID:              a.tabID,
		ChallengeID:        a.challenge.ID,
		State:              a.state.String(),
		Milestone:          milestone,
		TimerSeconds:       int(a.challenge.Difficulty.TimerDuration() / time.Second),
		Expired:            a.expired,
		ConsentError:       a.consentErr,
		CaptureError:       a.captureErr,
		ScreenshotCaptured: a.captured,
	}
	if !a.timerStartedAt.IsZero() {
		st.TimerStartedAt = a.timerStartedAt.UnixMilli()
	}
	if a.outcome != nil {
		q, p := a.outcome.QualityScore, a.outcome.PromptScore
		st.QualityScore = &q
		st.PromptScore = &p
		st.RedirectURL = a.outcome.RedirectURL
	}
	return st
}

// Observe streams status updates until ctx is done or the attempt closes.
// Slow observers miss updates rather than stall the attempt.
func (a *Attempt) Observe(ctx context.Context) <-chan Status {
	ch := make(chan Status, 16)

	a.obsMu.Lock()
	id := a.nextObsID
	a.nextObsID++
	a.observers[id] = ch
	a.obsMu.Unlock()

	go func() {
		<-ctx.Done()
		a.obsMu.Lock()
		if _, ok := a.observers[id]; ok {
			delete(a.observers, id)
			close(ch)
		}
		a.obsMu.Unlock()
	}()

	return ch
}

func (a *Attempt) notify(milestone string) {
	st := a.status(milestone)

	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	for _, ch := range a.observers {
		select {
		case ch <- st:
		default:
		}
	}
}

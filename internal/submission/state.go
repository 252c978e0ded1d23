package submission

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event is not accepted in the
// current state.
var ErrInvalidTransition = errors.New("invalid transition")

// State is the lifecycle position of one challenge attempt.
type State int

const (
	Idle State = iota
	ScreenShareRequested
	ProctoringArmed
	ChallengeInProgress
	SubmissionConfirmPending
	Capturing
	Grading
	Submitted
)

var stateNames = [...]string{
	Idle:                     "idle",
	ScreenShareRequested:     "screen_share_requested",
	ProctoringArmed:          "proctoring_armed",
	ChallengeInProgress:      "challenge_in_progress",
	SubmissionConfirmPending: "submission_confirm_pending",
	Capturing:                "capturing",
	Grading:                  "grading",
	Submitted:                "submitted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// DialogOpen reports whether the confirmation dialog is showing.
func (s State) DialogOpen() bool {
	return s == SubmissionConfirmPending || s == Capturing || s == Grading
}

// Event drives Transition.
type Event int

const (
	EnterChallenge Event = iota
	ConsentAccepted
	ConsentDeclined
	WorkbenchReady
	Submit
	CaptureStarted
	CaptureFinished
	Confirm
	Cancel
	TimerExpired
	GradingFinished
)

var eventNames = [...]string{
	EnterChallenge:  "enter_challenge",
	ConsentAccepted: "consent_accepted",
	ConsentDeclined: "consent_declined",
	WorkbenchReady:  "workbench_ready",
	Submit:          "submit",
	CaptureStarted:  "capture_started",
	CaptureFinished: "capture_finished",
	Confirm:         "confirm",
	Cancel:          "cancel",
	TimerExpired:    "timer_expired",
	GradingFinished: "grading_finished",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// Effect is a side effect the Attempt must run after a transition.
type Effect int

const (
	// EffectSaveContext writes the challenge context without proctoring.
	EffectSaveContext Effect = iota
	// EffectArmProctoring rewrites the context with proctoring active.
	EffectArmProctoring
	EffectStartTimer
	EffectStopTimer
	// EffectCapture runs the pre-submission capture for a fresh dialog.
	EffectCapture
	// EffectAutoConfirm confirms as soon as the dialog allows it.
	EffectAutoConfirm
	// EffectGrade runs the submission hook.
	EffectGrade
	EffectNavigate
)

var effectNames = [...]string{
	EffectSaveContext:   "save_context",
	EffectArmProctoring: "arm_proctoring",
	EffectStartTimer:    "start_timer",
	EffectStopTimer:     "stop_timer",
	EffectCapture:       "capture",
	EffectAutoConfirm:   "auto_confirm",
	EffectGrade:         "grade",
	EffectNavigate:      "navigate",
}

func (e Effect) String() string {
	if e < 0 || int(e) >= len(effectNames) {
		return fmt.Sprintf("effect(%d)", int(e))
	}
	return effectNames[e]
}

type edge struct {
	from  State
	event Event
}

type target struct {
	to      State
	effects []Effect
}

var transitions = map[edge]target{
	{Idle, EnterChallenge}:                 {ScreenShareRequested, []Effect{EffectSaveContext}},
	{ScreenShareRequested, EnterChallenge}: {ScreenShareRequested, []Effect{EffectSaveContext}},

	{ScreenShareRequested, ConsentAccepted}: {ProctoringArmed, []Effect{EffectArmProctoring}},
	{ScreenShareRequested, ConsentDeclined}: {ScreenShareRequested, nil},
	{ProctoringArmed, WorkbenchReady}:       {ChallengeInProgress, []Effect{EffectStartTimer}},

	{ChallengeInProgress, Submit}:              {SubmissionConfirmPending, []Effect{EffectCapture}},
	{SubmissionConfirmPending, CaptureStarted}: {Capturing, nil},
	{Capturing, CaptureFinished}:               {SubmissionConfirmPending, nil},

	{SubmissionConfirmPending, Cancel}: {ChallengeInProgress, nil},
	{Capturing, Cancel}:                {ChallengeInProgress, nil},

	{SubmissionConfirmPending, Confirm}: {Grading, []Effect{EffectStopTimer, EffectGrade}},
	{Grading, GradingFinished}:          {Submitted, []Effect{EffectNavigate}},

	{ChallengeInProgress, TimerExpired}:      {SubmissionConfirmPending, []Effect{EffectCapture, EffectAutoConfirm}},
	{SubmissionConfirmPending, TimerExpired}: {SubmissionConfirmPending, []Effect{EffectAutoConfirm}},
	{Capturing, TimerExpired}:                {Capturing, []Effect{EffectAutoConfirm}},
	{Grading, TimerExpired}:                  {Grading, nil},
	{Submitted, TimerExpired}:                {Submitted, nil},
}

// Transition returns the next state and the effects to run for event in
// state. It has no side effects.
func Transition(state State, event Event) (State, []Effect, error) {
	t, ok := transitions[edge{state, event}]
	if !ok {
		return state, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event, state)
	}
	effects := make([]Effect, len(t.effects))
	copy(effects, t.effects)
	return t.to, effects, nil
}

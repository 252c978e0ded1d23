package submission

// Milestones reported to status observers.
const (
	MilestoneStateChanged    = "state_changed"
	MilestoneConsentFailed   = "consent_failed"
	MilestoneCaptureStarted  = "capture_started"
	MilestoneCaptureFinished = "capture_finished"
	MilestoneGradingStarted  = "grading_started"
	MilestoneGradingComplete = "grading_complete"
	MilestoneNavigated       = "navigated"
)

// Status is a snapshot of an attempt, sent to observers on every change.
type Status struct {
	TabID              string   `json:"tab_id"`
	ChallengeID        string   `json:"challenge_id"`
	State              string   `json:"state"`
	Milestone          string   `json:"milestone"`
	TimerSeconds       int      `json:"timer_seconds"`
	TimerStartedAt     int64    `json:"timer_started_at,omitempty"`
	Expired            bool     `json:"expired"`
	ConsentError       string   `json:"consent_error,omitempty"`
	CaptureError       string   `json:"capture_error,omitempty"`
	ScreenshotCaptured bool     `json:"screenshot_captured"`
	QualityScore       *int     `json:"quality_score,omitempty"`
	PromptScore        *float64 `json:"prompt_score,omitempty"`
	RedirectURL        string   `json:"redirect_url,omitempty"`
}

// Outcome is the result of a completed submission.
type Outcome struct {
	QualityScore int     `json:"quality_score"`
	PromptScore  float64 `json:"prompt_score"`
	RedirectURL  string  `json:"redirect_url"`
}

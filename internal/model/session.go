package model

// ProctoringFlag is the optional proctoring argument of a new challenge session.
type ProctoringFlag struct {
	IsActive bool `json:"isActive"`
}

// ProctoringStatus tracks whether a capture stream is live and whether a
// still has been taken. Times are Unix milliseconds.
type ProctoringStatus struct {
	IsActive        bool   `json:"isActive"`
	ScreenshotTaken bool   `json:"screenshotTaken"`
	StartTime       *int64 `json:"startTime,omitempty"`
	EndTime         *int64 `json:"endTime,omitempty"`
}

// ChallengeSession is the single challenge context of a tab.
// Timestamp is Unix milliseconds of the last write.
type ChallengeSession struct {
	ChallengeID string            `json:"challengeId"`
	Challenge   Challenge         `json:"challenge"`
	Timestamp   int64             `json:"timestamp"`
	Proctoring  *ProctoringStatus `json:"proctoring,omitempty"`
}

// PromptScoreSession holds the append-only prompt scores of one challenge.
type PromptScoreSession struct {
	ChallengeID string `json:"challengeId"`
	Scores      []int  `json:"scores"`
	Timestamp   int64  `json:"timestamp"`
}

// Prompt score bounds and the average reported when nothing was scored.
const (
	MinPromptScore     = 1
	MaxPromptScore     = 5
	DefaultPromptScore = 3.0
)

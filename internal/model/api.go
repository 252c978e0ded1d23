package model

import "time"

// ChallengeURI binds the :id path parameter.
type ChallengeURI struct {
	ID string `uri:"id" binding:"required,max=64,slug"`
}

// AddPromptScoreRequest records one prompt rating.
type AddPromptScoreRequest struct {
	Score int `json:"score" binding:"required,min=1,max=5"`
}

// PromptScoreSummary is the tab's prompt rating state for one challenge.
type PromptScoreSummary struct {
	ChallengeID string  `json:"challenge_id"`
	Average     float64 `json:"average"`
	Count       int     `json:"count"`
	Scores      []int   `json:"scores"`
}

// TabSession is returned when a tab token is issued.
type TabSession struct {
	TabID     string    `json:"tab_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StartAttemptRequest enters a challenge.
type StartAttemptRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required,max=64,slug"`
}

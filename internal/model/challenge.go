package model

import "time"

// Difficulty enumerates challenge difficulty levels.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// TimerDuration returns the countdown length for the difficulty.
// Unknown difficulties get the Easy budget.
func (d Difficulty) TimerDuration() time.Duration {
	switch d {
	case DifficultyMedium:
		return 900 * time.Second
	case DifficultyHard:
		return 1200 * time.Second
	default:
		return 600 * time.Second
	}
}

// Valid reports whether d is one of the known levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Challenge is a target UI design the user attempts to reproduce.
type Challenge struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Question   string     `json:"question,omitempty" yaml:"question"`
	Image      string     `json:"image" yaml:"image"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	// AverageAccuracy is the historical mean quality score shown on cards.
	AverageAccuracy int `json:"averageAccuracy" yaml:"average_accuracy"`
}

// HasTargetImage reports whether the challenge can be visually graded.
func (c *Challenge) HasTargetImage() bool {
	return c != nil && c.Image != ""
}

// ChallengeListItem is a catalog entry overlaid with the tab's solved marker.
type ChallengeListItem struct {
	Challenge
	Solved bool `json:"solved"`
}

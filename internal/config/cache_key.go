package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ChallengeContextKey returns the key holding the tab's single challenge session
func (r *CacheKeyStruct) ChallengeContextKey(tabID string) string {
	return fmt.Sprintf("tab:%s:challenge-context", tabID)
}

// PromptScoresKey returns the key holding a tab's prompt scores for a challenge
func (r *CacheKeyStruct) PromptScoresKey(tabID, challengeID string) string {
	return fmt.Sprintf("tab:%s:prompt-scores:%s", tabID, challengeID)
}

// PromptScoresPattern matches every prompt-score record of every tab
func (r *CacheKeyStruct) PromptScoresPattern() string {
	return "tab:*:prompt-scores:*"
}

// ChallengeSolvedKey returns the key of a tab's solved marker for a challenge
func (r *CacheKeyStruct) ChallengeSolvedKey(tabID, challengeID string) string {
	return fmt.Sprintf("tab:%s:challenge-solved:%s", tabID, challengeID)
}

// ChallengeEventsChannel returns the Redis PubSub channel for submission broadcasts
func (r *CacheKeyStruct) ChallengeEventsChannel() string {
	return "challenge:submit"
}

var CacheKey = NewCacheKeyStruct()

package store

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/model"
)

const solvedMarker = "1"

// Options tunes expiry. Zero values fall back to the defaults below.
type Options struct {
	// MaxAge is the read-time expiry of session records.
	MaxAge time.Duration
	// Retention bounds how long abandoned records stay in the backend.
	Retention time.Duration
	Now       func() time.Time
}

// Default expiry values.
const (
	DefaultMaxAge    = time.Hour
	DefaultRetention = 24 * time.Hour
)

// Store persists per-tab challenge context, prompt scores and solved
// markers. Every operation is best effort: backend and encoding failures
// are logged and swallowed, never returned to the caller.
type Store struct {
	backend   Backend
	log       zerolog.Logger
	maxAge    time.Duration
	retention time.Duration
	now       func() time.Time
}

// New creates a Store on top of backend.
func New(backend Backend, log zerolog.Logger, opts Options) *Store {
	s := &Store{
		backend:   backend,
		log:       log.With().Str("component", "session_store").Logger(),
		maxAge:    opts.MaxAge,
		retention: opts.Retention,
		now:       opts.Now,
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ─── Challenge context ──────────────────────────────────────────────

// SetChallengeContext replaces the tab's challenge session.
func (s *Store) SetChallengeContext(ctx context.Context, tabID, challengeID string, challenge model.Challenge, proctoring *model.ProctoringFlag) {
	now := s.nowMillis()
	sess := model.ChallengeSession{
		ChallengeID: challengeID,
		Challenge:   challenge,
		Timestamp:   now,
	}
	if proctoring != nil {
		sess.Proctoring = &model.ProctoringStatus{IsActive: proctoring.IsActive}
		if proctoring.IsActive {
			sess.Proctoring.StartTime = &now
		}
	}

	s.write(ctx, config.CacheKey.ChallengeContextKey(tabID), sess, "Failed to store challenge context")
}

// GetChallengeContext returns the tab's challenge session. Records older
// than the max age and unparsable records are purged and reported absent.
func (s *Store) GetChallengeContext(ctx context.Context, tabID string) (*model.ChallengeSession, bool) {
	key := config.CacheKey.ChallengeContextKey(tabID)

	var sess model.ChallengeSession
	ok := s.read(ctx, key, &sess, "Failed to retrieve challenge context")
	if !ok {
		return nil, false
	}
	if s.expired(sess.Timestamp) {
		s.ClearChallengeContext(ctx, tabID)
		return nil, false
	}
	return &sess, true
}

// HasChallengeContext reports whether a live challenge session exists.
func (s *Store) HasChallengeContext(ctx context.Context, tabID string) bool {
	_, ok := s.GetChallengeContext(ctx, tabID)
	return ok
}

// ClearChallengeContext deletes the tab's challenge session. Idempotent.
func (s *Store) ClearChallengeContext(ctx context.Context, tabID string) {
	s.remove(ctx, config.CacheKey.ChallengeContextKey(tabID), "Failed to clear challenge context")
}

// UpdateProctoringStatus merges screenshotTaken (and endTime when true)
// into the current session. No-op without a session.
func (s *Store) UpdateProctoringStatus(ctx context.Context, tabID string, screenshotTaken bool) {
	sess, ok := s.GetChallengeContext(ctx, tabID)
	if !ok {
		return
	}

	if sess.Proctoring != nil {
		p := *sess.Proctoring
		p.ScreenshotTaken = screenshotTaken
		if screenshotTaken {
			end := s.nowMillis()
			p.EndTime = &end
		}
		sess.Proctoring = &p
	}

	s.write(ctx, config.CacheKey.ChallengeContextKey(tabID), sess, "Failed to update proctoring status")
}

// ClearProctoringSession marks proctoring inactive and stamps its end time.
func (s *Store) ClearProctoringSession(ctx context.Context, tabID string) {
	sess, ok := s.GetChallengeContext(ctx, tabID)
	if !ok || sess.Proctoring == nil {
		return
	}

	p := *sess.Proctoring
	end := s.nowMillis()
	p.IsActive = false
	p.EndTime = &end
	sess.Proctoring = &p

	s.write(ctx, config.CacheKey.ChallengeContextKey(tabID), sess, "Failed to clear proctoring session")
}

// ─── Prompt scores ──────────────────────────────────────────────────

// AddPromptScore appends score to the challenge's session, creating it on
// first use. Scores outside [1,5] are logged and ignored.
func (s *Store) AddPromptScore(ctx context.Context, tabID, challengeID string, score int) {
	if score < model.MinPromptScore || score > model.MaxPromptScore {
		s.log.Warn().Int("score", score).Str("challenge_id", challengeID).Msg("Invalid prompt score")
		return
	}

	sess, ok := s.promptSession(ctx, tabID, challengeID)
	if !ok {
		sess = &model.PromptScoreSession{ChallengeID: challengeID, Scores: []int{}}
	}

	sess.Scores = append(sess.Scores, score)
	sess.Timestamp = s.nowMillis()

	s.write(ctx, config.CacheKey.PromptScoresKey(tabID, challengeID), sess, "Failed to store prompt scores")
}

// GetAveragePromptScore returns the mean prompt score rounded up to one
// decimal place, or 3.0 when nothing was scored.
func (s *Store) GetAveragePromptScore(ctx context.Context, tabID, challengeID string) float64 {
	sess, ok := s.promptSession(ctx, tabID, challengeID)
	if !ok || len(sess.Scores) == 0 {
		return model.DefaultPromptScore
	}
	return averageRoundedUp(sess.Scores)
}

// averageRoundedUp rounds toward +Inf on purpose: prompt scoring is generous.
func averageRoundedUp(scores []int) float64 {
	sum := 0
	for _, sc := range scores {
		sum += sc
	}
	avg := float64(sum) / float64(len(scores))
	return math.Ceil(avg*10) / 10
}

// GetPromptScores returns every recorded score in order.
func (s *Store) GetPromptScores(ctx context.Context, tabID, challengeID string) []int {
	sess, ok := s.promptSession(ctx, tabID, challengeID)
	if !ok {
		return []int{}
	}
	return sess.Scores
}

// GetPromptCount returns how many prompts were scored.
func (s *Store) GetPromptCount(ctx context.Context, tabID, challengeID string) int {
	return len(s.GetPromptScores(ctx, tabID, challengeID))
}

// ClearPromptScores deletes the challenge's prompt scores.
func (s *Store) ClearPromptScores(ctx context.Context, tabID, challengeID string) {
	s.remove(ctx, config.CacheKey.PromptScoresKey(tabID, challengeID), "Failed to clear prompt scores")
}

// ClearExpiredSessions sweeps every prompt-score record of every tab and
// deletes those past the max age or with an unparsable payload.
func (s *Store) ClearExpiredSessions(ctx context.Context) int {
	keys, err := s.backend.Keys(ctx, config.CacheKey.PromptScoresPattern())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear expired prompt score sessions")
		return 0
	}

	removed := 0
	for _, key := range keys {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil || !found {
			continue
		}

		var sess model.PromptScoreSession
		if err := json.Unmarshal([]byte(raw), &sess); err != nil || s.expired(sess.Timestamp) {
			if err := s.backend.Delete(ctx, key); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("Failed to delete expired prompt scores")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Cleared expired prompt score sessions")
	}
	return removed
}

func (s *Store) promptSession(ctx context.Context, tabID, challengeID string) (*model.PromptScoreSession, bool) {
	var sess model.PromptScoreSession
	if !s.read(ctx, config.CacheKey.PromptScoresKey(tabID, challengeID), &sess, "Failed to retrieve prompt scores") {
		return nil, false
	}
	if s.expired(sess.Timestamp) {
		s.ClearPromptScores(ctx, tabID, challengeID)
		return nil, false
	}
	return &sess, true
}

// ─── Solved marker ──────────────────────────────────────────────────

// MarkSolved records that the tab submitted the challenge.
func (s *Store) MarkSolved(ctx context.Context, tabID, challengeID string) {
	if err := s.backend.Set(ctx, config.CacheKey.ChallengeSolvedKey(tabID, challengeID), solvedMarker, s.retention); err != nil {
		s.log.Warn().Err(err).Str("challenge_id", challengeID).Msg("Failed to store solved marker")
	}
}

// IsSolved reports whether the tab has submitted the challenge.
func (s *Store) IsSolved(ctx context.Context, tabID, challengeID string) bool {
	val, found, err := s.backend.Get(ctx, config.CacheKey.ChallengeSolvedKey(tabID, challengeID))
	if err != nil {
		s.log.Warn().Err(err).Str("challenge_id", challengeID).Msg("Failed to read solved marker")
		return false
	}
	return found && val == solvedMarker
}

// ─── Internal helpers ───────────────────────────────────────────────

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) expired(timestamp int64) bool {
	return s.nowMillis()-timestamp > s.maxAge.Milliseconds()
}

// write serializes v and replaces key. The prior value survives any failure.
func (s *Store) write(ctx context.Context, key string, v any, failMsg string) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg(failMsg)
		return
	}
	if err := s.backend.Set(ctx, key, string(raw), s.retention); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg(failMsg)
	}
}

// read decodes key into dst. Backend errors and malformed payloads purge
// the key and report absent.
func (s *Store) read(ctx context.Context, key string, dst any, failMsg string) bool {
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg(failMsg)
		s.remove(ctx, key, failMsg)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg(failMsg)
		s.remove(ctx, key, failMsg)
		return false
	}
	return true
}

func (s *Store) remove(ctx context.Context, key, failMsg string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg(failMsg)
	}
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/database"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tab = "7f9c2ba4-e88f-11ec-8ea0-0242ac120002"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newSQLiteBackend(t *testing.T) *store.SQLiteBackend {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:", store.SQLiteSchema, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewSQLiteBackend(db)
}

func newStore(t *testing.T) (*store.Store, *store.SQLiteBackend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	backend := newSQLiteBackend(t)
	s := store.New(backend, zerolog.Nop(), store.Options{Now: clock.Now})
	return s, backend, clock
}

var weather = model.Challenge{
	ID:         "weather-6",
	Title:      "Weather Card",
	Image:      "/images/weather.png",
	Difficulty: model.DifficultyMedium,
}

func TestAveragePromptScore(t *testing.T) {
	testcases := []struct {
		name   string
		scores []int
		want   float64
	}{
		{name: "no scores", scores: nil, want: 3.0},
		{name: "exact half", scores: []int{3, 4}, want: 3.5},
		{name: "rounds up not to nearest", scores: []int{3, 3, 4}, want: 3.4},
		{name: "rounds up small remainder", scores: []int{5, 5, 4}, want: 4.7},
		{name: "single", scores: []int{1}, want: 1.0},
		{name: "out of range ignored", scores: []int{0, 6, 2}, want: 2.0},
		{name: "only invalid keeps default", scores: []int{0, 6}, want: 3.0},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newStore(t)
			ctx := context.Background()
			for _, sc := range tc.scores {
				s.AddPromptScore(ctx, tab, "weather-6", sc)
			}
			assert.Equal(t, tc.want, s.GetAveragePromptScore(ctx, tab, "weather-6"))
		})
	}
}

func TestPromptScoresAreAppendOnlyAndScopedByChallenge(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	s.AddPromptScore(ctx, tab, "weather-6", 4)
	s.AddPromptScore(ctx, tab, "weather-6", 2)
	s.AddPromptScore(ctx, tab, "counter-ui", 5)

	assert.Equal(t, []int{4, 2}, s.GetPromptScores(ctx, tab, "weather-6"))
	assert.Equal(t, 2, s.GetPromptCount(ctx, tab, "weather-6"))
	assert.Equal(t, 5.0, s.GetAveragePromptScore(ctx, tab, "counter-ui"))
	assert.Equal(t, 3.0, s.GetAveragePromptScore(ctx, "another-tab", "weather-6"))

	s.ClearPromptScores(ctx, tab, "weather-6")
	assert.Empty(t, s.GetPromptScores(ctx, tab, "weather-6"))
}

func TestPromptScoresExpireAfterAnHour(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	s.AddPromptScore(ctx, tab, "weather-6", 5)
	clock.Advance(59 * time.Minute)
	// Appending refreshes the timestamp.
	s.AddPromptScore(ctx, tab, "weather-6", 5)
	clock.Advance(59 * time.Minute)
	assert.Equal(t, 5.0, s.GetAveragePromptScore(ctx, tab, "weather-6"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 3.0, s.GetAveragePromptScore(ctx, tab, "weather-6"))
}

func TestChallengeContextRoundTripAndOverwrite(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	s.SetChallengeContext(ctx, tab, weather.ID, weather, &model.ProctoringFlag{IsActive: true})

	sess, ok := s.GetChallengeContext(ctx, tab)
	require.True(t, ok)
	assert.Equal(t, "weather-6", sess.ChallengeID)
	assert.Equal(t, weather, sess.Challenge)
	assert.Equal(t, clock.Now().UnixMilli(), sess.Timestamp)
	require.NotNil(t, sess.Proctoring)
	assert.True(t, sess.Proctoring.IsActive)
	assert.False(t, sess.Proctoring.ScreenshotTaken)
	require.NotNil(t, sess.Proctoring.StartTime)

	counter := model.Challenge{ID: "counter-ui", Title: "Build a Counter", Difficulty: model.DifficultyEasy}
	s.SetChallengeContext(ctx, tab, counter.ID, counter, nil)

	sess, ok = s.GetChallengeContext(ctx, tab)
	require.True(t, ok)
	assert.Equal(t, "counter-ui", sess.ChallengeID)
	assert.Nil(t, sess.Proctoring, "a new session fully replaces the prior one")
}

func TestChallengeContextExpiryPurges(t *testing.T) {
	s, backend, clock := newStore(t)
	ctx := context.Background()

	s.SetChallengeContext(ctx, tab, weather.ID, weather, nil)
	clock.Advance(time.Hour + time.Millisecond)

	_, ok := s.GetChallengeContext(ctx, tab)
	assert.False(t, ok)

	_, found, err := backend.Get(ctx, config.CacheKey.ChallengeContextKey(tab))
	require.NoError(t, err)
	assert.False(t, found, "expired record is deleted on read")

	_, ok = s.GetChallengeContext(ctx, tab)
	assert.False(t, ok)
}

func TestChallengeContextMalformedIsPurged(t *testing.T) {
	s, backend, _ := newStore(t)
	ctx := context.Background()
	key := config.CacheKey.ChallengeContextKey(tab)

	require.NoError(t, backend.Set(ctx, key, "{not json", 0))

	_, ok := s.GetChallengeContext(ctx, tab)
	assert.False(t, ok)
	assert.False(t, s.HasChallengeContext(ctx, tab))

	_, found, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateProctoringStatus(t *testing.T) {
	s, _, clock := newStore(t)
	ctx := context.Background()

	// No session: nothing is created.
	s.UpdateProctoringStatus(ctx, tab, true)
	assert.False(t, s.HasChallengeContext(ctx, tab))

	s.SetChallengeContext(ctx, tab, weather.ID, weather, &model.ProctoringFlag{IsActive: true})
	before, _ := s.GetChallengeContext(ctx, tab)

	clock.Advance(5 * time.Minute)
	s.UpdateProctoringStatus(ctx, tab, true)

	after, ok := s.GetChallengeContext(ctx, tab)
	require.True(t, ok)
	assert.True(t, after.Proctoring.ScreenshotTaken)
	assert.True(t, after.Proctoring.IsActive)
	assert.Equal(t, *before.Proctoring.StartTime, *after.Proctoring.StartTime)
	require.NotNil(t, after.Proctoring.EndTime)
	assert.Equal(t, clock.Now().UnixMilli(), *after.Proctoring.EndTime)
	assert.Equal(t, before.Timestamp, after.Timestamp)
	assert.Equal(t, before.Challenge, after.Challenge)

	s.ClearProctoringSession(ctx, tab)
	cleared, _ := s.GetChallengeContext(ctx, tab)
	assert.False(t, cleared.Proctoring.IsActive)
	assert.True(t, cleared.Proctoring.ScreenshotTaken)
}

func TestClearChallengeContextIsIdempotent(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	s.SetChallengeContext(ctx, tab, weather.ID, weather, nil)
	s.ClearChallengeContext(ctx, tab)
	s.ClearChallengeContext(ctx, tab)
	assert.False(t, s.HasChallengeContext(ctx, tab))
}

func TestClearExpiredSessions(t *testing.T) {
	s, backend, clock := newStore(t)
	ctx := context.Background()

	s.AddPromptScore(ctx, "tab-a", "weather-6", 4)
	s.AddPromptScore(ctx, "tab-b", "weather-6", 4)
	require.NoError(t, backend.Set(ctx, config.CacheKey.PromptScoresKey("tab-c", "weather-6"), "garbage", 0))

	clock.Advance(30 * time.Minute)
	s.AddPromptScore(ctx, "tab-b", "weather-6", 5)
	clock.Advance(31 * time.Minute)

	removed := s.ClearExpiredSessions(ctx)
	assert.Equal(t, 2, removed)

	keys, err := backend.Keys(ctx, config.CacheKey.PromptScoresPattern())
	require.NoError(t, err)
	assert.Equal(t, []string{config.CacheKey.PromptScoresKey("tab-b", "weather-6")}, keys)
}

func TestSolvedMarker(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	assert.False(t, s.IsSolved(ctx, tab, "weather-6"))
	s.MarkSolved(ctx, tab, "weather-6")
	assert.True(t, s.IsSolved(ctx, tab, "weather-6"))
	assert.False(t, s.IsSolved(ctx, "another-tab", "weather-6"))
}

// brokenBackend fails every call.
type brokenBackend struct{ calls int }

func (b *brokenBackend) Get(context.Context, string) (string, bool, error) {
	b.calls++
	return "", false, store.ErrBackendUnavailable
}

func (b *brokenBackend) Set(context.Context, string, string, time.Duration) error {
	b.calls++
	return errors.New("quota exceeded")
}

func (b *brokenBackend) Delete(context.Context, string) error {
	b.calls++
	return store.ErrBackendUnavailable
}

func (b *brokenBackend) Keys(context.Context, string) ([]string, error) {
	b.calls++
	return nil, store.ErrBackendUnavailable
}

func TestBackendFailuresAreSwallowed(t *testing.T) {
	backend := &brokenBackend{}
	s := store.New(backend, zerolog.Nop(), store.Options{})
	ctx := context.Background()

	assert.NotPanics(t, func() {
		s.SetChallengeContext(ctx, tab, weather.ID, weather, &model.ProctoringFlag{IsActive: true})
		s.UpdateProctoringStatus(ctx, tab, true)
		s.ClearProctoringSession(ctx, tab)
		s.ClearChallengeContext(ctx, tab)
		s.AddPromptScore(ctx, tab, "weather-6", 4)
		s.MarkSolved(ctx, tab, "weather-6")
		s.ClearExpiredSessions(ctx)
	})

	_, ok := s.GetChallengeContext(ctx, tab)
	assert.False(t, ok)
	assert.Equal(t, 3.0, s.GetAveragePromptScore(ctx, tab, "weather-6"))
	assert.False(t, s.IsSolved(ctx, tab, "weather-6"))
	assert.Positive(t, backend.calls)
}

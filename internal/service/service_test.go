package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/database"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/store"
	"github.com/stemsi/clonearena-backend/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewTabService("secret-one", time.Hour)
	svc.now = func() time.Time { return now }

	sess, err := svc.IssueTab()
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), sess.ExpiresAt)

	claims, err := svc.ValidateToken(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.TabID, claims.TabID)

	// Another secret never accepts it.
	other := NewTabService("secret-two", time.Hour)
	other.now = svc.now
	_, err = other.ValidateToken(sess.Token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	now = now.Add(2 * time.Hour)
	_, err = svc.ValidateToken(sess.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

type constGrader int

func (g constGrader) GradeAttempt(ctx context.Context, targetURL string, result []byte) int {
	return int(g)
}

func newAttemptService(t *testing.T) *AttemptService {
	t.Helper()
	log := zerolog.Nop()

	db, err := database.OpenSQLite(context.Background(), ":memory:", store.SQLiteSchema, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := repository.ParseChallengeCatalog([]byte(`
challenges:
  - id: counter-5
    title: Counter
    image: /images/counter.png
    difficulty: Easy
`))
	require.NoError(t, err)

	st := store.New(store.NewSQLiteBackend(db), log, store.Options{})
	svc := NewAttemptService(repo, st, constGrader(70), events.NewLocalBus(log), nil, AttemptConfig{
		WorkbenchURL: "http://workbench.test/challenge",
		MaxAge:       time.Hour,
	}, log)
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestAttemptServiceReplacesAttempt(t *testing.T) {
	svc := newAttemptService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "tab-a", "missing-1")
	assert.ErrorIs(t, err, repository.ErrChallengeNotFound)

	first, err := svc.Start(ctx, "tab-a", "counter-5")
	require.NoError(t, err)
	assert.Equal(t, submission.ScreenShareRequested, first.State())

	second, err := svc.Start(ctx, "tab-a", "counter-5")
	require.NoError(t, err)
	assert.ErrorIs(t, first.Decline(ctx), submission.ErrAttemptClosed)

	got, err := svc.Get("tab-a")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, 1, svc.ActiveCount())

	_, err = svc.Get("tab-b")
	assert.ErrorIs(t, err, ErrNoActiveAttempt)
}

func TestAttemptServiceConsentWithoutSource(t *testing.T) {
	svc := newAttemptService(t)
	ctx := context.Background()

	attempt, err := svc.Start(ctx, "tab-a", "counter-5")
	require.NoError(t, err)

	res, err := attempt.AcceptScreenShare(ctx)
	assert.ErrorIs(t, err, submission.ErrConsentFailed)
	assert.False(t, res.Success)
	assert.NotEmpty(t, attempt.Snapshot().ConsentError)
	assert.Equal(t, submission.ScreenShareRequested, attempt.State())
}

func TestAttemptServiceReap(t *testing.T) {
	svc := newAttemptService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }

	_, err := svc.Start(context.Background(), "tab-a", "counter-5")
	require.NoError(t, err)

	assert.Zero(t, svc.Reap())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.Reap())
	assert.Zero(t, svc.ActiveCount())
}

func TestAttemptServiceScreenshotWhileEnding(t *testing.T) {
	svc := newAttemptService(t)
	ctx := context.Background()

	for range 50 {
		_, err := svc.Start(ctx, "tab-a", "counter-5")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := svc.SaveScreenshot("tab-a")
			if err != nil {
				assert.ErrorIs(t, err, ErrNoActiveAttempt)
				return
			}
			assert.False(t, res.Success)
		}()
		go func() {
			defer wg.Done()
			svc.End("tab-a")
		}()
		wg.Wait()
	}

	_, err := svc.SaveScreenshot("tab-a")
	assert.ErrorIs(t, err, ErrNoActiveAttempt)
}

func TestAttemptServiceSubscribe(t *testing.T) {
	svc := newAttemptService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := svc.Subscribe(ctx, "tab-a")

	_, err := svc.Start(ctx, "tab-a", "counter-5")
	require.NoError(t, err)

	select {
	case st := <-updates:
		assert.Equal(t, "counter-5", st.ChallengeID)
		assert.Equal(t, submission.ScreenShareRequested.String(), st.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no status update")
	}
}

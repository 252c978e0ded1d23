package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/capture"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/database"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/grading"
	"github.com/stemsi/clonearena-backend/internal/handler"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/router"
	"github.com/stemsi/clonearena-backend/internal/service"
	"github.com/stemsi/clonearena-backend/internal/store"
	"github.com/stemsi/clonearena-backend/internal/submission"
	"github.com/stemsi/clonearena-backend/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalog = `
challenges:
  - id: weather-6
    title: Weather Forecast
    image: /images/weather-app.png
    difficulty: Medium
  - id: free-build-7
    title: Free Build
    difficulty: Easy
`

type fakeModel struct {
	mu     sync.Mutex
	result model.GradeResult
	err    error
	calls  int
}

func (m *fakeModel) Compare(ctx context.Context, target, result grading.Image) (model.GradeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeAttemptGrader struct{ score int }

func (g fakeAttemptGrader) GradeAttempt(ctx context.Context, targetURL string, result []byte) int {
	return g.score
}

type stillStream struct {
	done chan struct{}
	once sync.Once
}

func (s *stillStream) Frame(ctx context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, capture.DefaultWidth, capture.DefaultHeight))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	return img, nil
}

func (s *stillStream) Done() <-chan struct{} { return s.done }

func (s *stillStream) Stop() { s.once.Do(func() { close(s.done) }) }

type stillSource struct{ err error }

func (s stillSource) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stillStream{done: make(chan struct{})}, nil
}

type env struct {
	router   *gin.Engine
	model    *fakeModel
	attempts *service.AttemptService
}

func newEnv(t *testing.T, source capture.Source, opts ...func(*config.Config)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zerolog.Nop()
	cfg := &config.Config{
		GinMode:            gin.TestMode,
		StoreDriver:        config.StoreDriverSQLite,
		MaxUploadBytes:     1 << 20,
		GradeRatePerMinute: 100,
		ImagesDir:          t.TempDir(),
		ScreenshotDir:      t.TempDir(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := database.OpenSQLite(ctx, ":memory:", store.SQLiteSchema, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := repository.ParseChallengeCatalog([]byte(catalog))
	require.NoError(t, err)

	st := store.New(store.NewSQLiteBackend(db), log, store.Options{})
	bus := events.NewLocalBus(log)
	tabs := service.NewTabService("handler-test-secret", time.Hour)
	m := &fakeModel{result: model.GradeResult{Similarity: 88, Reasoning: "close match"}}
	attempts := service.NewAttemptService(repo, st, fakeAttemptGrader{score: 77}, bus, source, service.AttemptConfig{
		WorkbenchURL:  "http://workbench.test/challenge",
		ScreenshotDir: cfg.ScreenshotDir,
	}, log)
	t.Cleanup(attempts.Shutdown)

	handlers := &router.Handlers{
		Tab:       handler.NewTabHandler(tabs, log),
		Challenge: handler.NewChallengeHandler(service.NewChallengeService(repo, st, log)),
		Attempt:   handler.NewAttemptHandler(attempts, log),
		Grade:     handler.NewGradeHandler(grading.NewGrader(m, nil, log), cfg.MaxUploadBytes, log),
		WS:        handler.NewWSHandler(attempts, bus, log, nil),
		System:    handler.NewSystemHandler(nil, attempts, cfg.StoreDriver, log),
	}

	return &env{
		router:   router.SetupRouter(ctx, tabs, handlers, cfg),
		model:    m,
		attempts: attempts,
	}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) openTab(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/tabs", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			Tab model.TabSession `json:"tab"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.Tab.Token)
	return body.Data.Tab.Token
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/grade-result", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestGradeResult(t *testing.T) {
	target := part{"targetScreenshot", "target.png", "image/png", []byte("target-bytes")}
	result := part{"resultScreenshot", "result.jpg", "image/jpeg", []byte("result-bytes")}

	testcases := []struct {
		name      string
		parts     []part
		modelRes  model.GradeResult
		modelErr  error
		code      int
		body      string
		callsWant int
	}{
		{
			name:  "missing result",
			parts: []part{target},
			code:  http.StatusBadRequest,
			body:  `{"error":"Both targetScreenshot and resultScreenshot files are required"}`,
		},
		{
			name:  "unsupported type",
			parts: []part{target, {"resultScreenshot", "result.gif", "image/gif", []byte("gif")}},
			code:  http.StatusBadRequest,
			body:  `{"error":"Only PNG and JPEG image files are supported"}`,
		},
		{
			name:      "model failure falls back",
			parts:     []part{target, result},
			modelErr:  errors.New("quota exceeded"),
			code:      http.StatusInternalServerError,
			body:      `{"error":"Internal server error","message":"Unable to grade screenshot comparison","similarity":50,"reasoning":"An error occurred while processing the images. Please try again."}`,
			callsWant: 1,
		},
		{
			name:      "score clamped",
			parts:     []part{target, result},
			modelRes:  model.GradeResult{Similarity: 140, Reasoning: "identical"},
			code:      http.StatusOK,
			body:      `{"similarity":100,"reasoning":"identical"}`,
			callsWant: 1,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, stillSource{})
			e.model.result = tc.modelRes
			e.model.err = tc.modelErr

			w := httptest.NewRecorder()
			e.router.ServeHTTP(w, multipartRequest(t, tc.parts...))

			assert.Equal(t, tc.code, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
			assert.Equal(t, tc.callsWant, e.model.callCount())
		})
	}
}

func TestTabTokenRequired(t *testing.T) {
	e := newEnv(t, stillSource{})

	w := e.do(t, http.MethodGet, "/api/v1/challenges", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED")
}

func TestChallengesAndPromptScores(t *testing.T) {
	e := newEnv(t, stillSource{})
	token := e.openTab(t)

	w := e.do(t, http.MethodGet, "/api/v1/challenges", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), `"id":"weather-6"`)

	w = e.do(t, http.MethodGet, "/api/v1/challenges/nope-1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/challenges/Bad_ID", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, score := range []int{4, 3} {
		w = e.do(t, http.MethodPost, "/api/v1/challenges/weather-6/prompt-scores", token, gin.H{"score": score})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w = e.do(t, http.MethodPost, "/api/v1/challenges/weather-6/prompt-scores", token, gin.H{"score": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_PROMPT_SCORE")

	w = e.do(t, http.MethodGet, "/api/v1/challenges/weather-6/prompt-scores", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"average":3.5`)
	assert.Contains(t, w.Body.String(), `"count":2`)

	// Another tab sees none of it.
	other := e.openTab(t)
	w = e.do(t, http.MethodGet, "/api/v1/challenges/weather-6/prompt-scores", other, nil)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestAttemptFlow(t *testing.T) {
	e := newEnv(t, stillSource{})
	token := e.openTab(t)

	w := e.do(t, http.MethodPost, "/api/v1/attempt/submit", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NO_ACTIVE_ATTEMPT")

	w = e.do(t, http.MethodPost, "/api/v1/attempt", token, gin.H{"challenge_id": "weather-6"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"screen_share_requested"`)

	// The workbench stays inert until consent.
	w = e.do(t, http.MethodPost, "/api/v1/attempt/submit", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ACTION_NOT_ALLOWED")

	w = e.do(t, http.MethodPost, "/api/v1/attempt/screen-share", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"challenge_in_progress"`)
	assert.Contains(t, w.Body.String(), `"timer_seconds":900`)

	w = e.do(t, http.MethodPost, "/api/v1/attempt/submit", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"submission_confirm_pending"`)
	assert.Contains(t, w.Body.String(), `"screenshot_captured":true`)

	w = e.do(t, http.MethodGet, "/api/v1/attempt/screenshot", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = e.do(t, http.MethodPost, "/api/v1/attempt/cancel", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"challenge_in_progress"`)

	w = e.do(t, http.MethodPost, "/api/v1/attempt/submit", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/attempt/confirm", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var confirmed struct {
		Data struct {
			Outcome submission.Outcome `json:"outcome"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	assert.Equal(t, "/result?prompt_score=3.0&quality_score=77", confirmed.Data.Outcome.RedirectURL)
	assert.Equal(t, 77, confirmed.Data.Outcome.QualityScore)

	w = e.do(t, http.MethodGet, "/api/v1/attempt", token, nil)
	assert.Contains(t, w.Body.String(), `"state":"submitted"`)

	w = e.do(t, http.MethodGet, "/api/v1/challenges", token, nil)
	var list struct {
		Data struct {
			Challenges []model.ChallengeListItem `json:"challenges"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	solved := map[string]bool{}
	for _, c := range list.Data.Challenges {
		solved[c.ID] = c.Solved
	}
	assert.Equal(t, map[string]bool{"weather-6": true, "free-build-7": false}, solved)

	w = e.do(t, http.MethodDelete, "/api/v1/attempt", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, e.attempts.ActiveCount())
}

func TestScreenShareDenied(t *testing.T) {
	e := newEnv(t, stillSource{err: capture.ErrPermissionDenied})
	token := e.openTab(t)

	w := e.do(t, http.MethodPost, "/api/v1/attempt", token, gin.H{"challenge_id": "weather-6"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/attempt/screen-share", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "SCREEN_SHARE_FAILED")
	assert.Contains(t, w.Body.String(), "permission denied")

	w = e.do(t, http.MethodGet, "/api/v1/attempt", token, nil)
	assert.Contains(t, w.Body.String(), `"state":"screen_share_requested"`)

	w = e.do(t, http.MethodPost, "/api/v1/attempt/decline", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, stillSource{})

	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"sqlite"`)
}

func TestMetricsStream(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		e := newEnv(t, stillSource{})
		token := e.openTab(t)

		w := e.do(t, http.MethodGet, "/api/v1/system/metrics", token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		e := newEnv(t, stillSource{}, func(cfg *config.Config) { cfg.MetricsStreamEnabled = true })
		token := e.openTab(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/system/metrics", nil).WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "active_attempts")
	})
}

package grading_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/grading"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngMagic is enough for http.DetectContentType to report image/png.
var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

type gradeServer struct {
	mu         sync.Mutex
	status     int
	similarity int
	delay      time.Duration
	rawBody    string
	parts      map[string]string
}

func (s *gradeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/images/weather.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngMagic)
	})
	mux.HandleFunc("/images/untyped", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngMagic)
	})
	mux.HandleFunc("/api/grade-result", func(w http.ResponseWriter, r *http.Request) {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}

		parts := map[string]string{}
		mr, err := r.MultipartReader()
		if err == nil {
			for {
				p, err := mr.NextPart()
				if err != nil {
					break
				}
				_, _ = io.Copy(io.Discard, p)
				parts[p.FormName()] = p.Header.Get("Content-Type")
			}
		}
		s.mu.Lock()
		s.parts = parts
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if s.status != 0 && s.status != http.StatusOK {
			w.WriteHeader(s.status)
			_ = json.NewEncoder(w).Encode(model.NewGradeFailure())
			return
		}
		if s.rawBody != "" {
			_, _ = io.WriteString(w, s.rawBody)
			return
		}
		_ = json.NewEncoder(w).Encode(model.GradeResult{Similarity: s.similarity, Reasoning: "ok"})
	})
	return mux
}

func newClient(t *testing.T, gs *gradeServer, timeout time.Duration) *grading.Client {
	t.Helper()
	srv := httptest.NewServer(gs.handler())
	t.Cleanup(srv.Close)
	return grading.NewClient(grading.ClientConfig{
		GradeURL:     srv.URL + "/api/grade-result",
		AssetBaseURL: srv.URL,
		Timeout:      timeout,
	}, zerolog.Nop())
}

func TestGradeAttemptSuccess(t *testing.T) {
	gs := &gradeServer{similarity: 73}
	c := newClient(t, gs, time.Second)

	got := c.GradeAttempt(context.Background(), "/images/weather.png", pngMagic)

	assert.Equal(t, 73, got)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	assert.Equal(t, "image/png", gs.parts["targetScreenshot"])
	assert.Equal(t, "image/png", gs.parts["resultScreenshot"])
}

func TestGradeAttemptSniffsTargetType(t *testing.T) {
	gs := &gradeServer{similarity: 61}
	c := newClient(t, gs, time.Second)

	require.Equal(t, 61, c.GradeAttempt(context.Background(), "/images/untyped", pngMagic))
	gs.mu.Lock()
	defer gs.mu.Unlock()
	assert.Equal(t, "image/png", gs.parts["targetScreenshot"])
}

func TestGradeAttemptClampsOutOfRange(t *testing.T) {
	testcases := []struct {
		name       string
		similarity int
		want       int
	}{
		{name: "zero", similarity: 0, want: model.MinSimilarity},
		{name: "negative", similarity: -7, want: model.MinSimilarity},
		{name: "too high", similarity: 140, want: model.MaxSimilarity},
		{name: "in range", similarity: 64, want: 64},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, &gradeServer{similarity: tc.similarity}, time.Second)
			assert.Equal(t, tc.want, c.GradeAttempt(context.Background(), "/images/weather.png", pngMagic))
		})
	}
}

func TestGradeAttemptFallback(t *testing.T) {
	testcases := []struct {
		name    string
		server  *gradeServer
		target  string
		result  []byte
		timeout time.Duration
	}{
		{name: "server error", server: &gradeServer{status: http.StatusInternalServerError}, target: "/images/weather.png", result: pngMagic},
		{name: "bad request", server: &gradeServer{status: http.StatusBadRequest}, target: "/images/weather.png", result: pngMagic},
		{name: "missing target", server: &gradeServer{similarity: 90}, target: "/images/nope.png", result: pngMagic},
		{name: "no target", server: &gradeServer{similarity: 90}, target: "", result: pngMagic},
		{name: "empty screenshot", server: &gradeServer{similarity: 90}, target: "/images/weather.png", result: nil},
		{name: "no similarity", server: &gradeServer{rawBody: `{"reasoning":"ok"}`}, target: "/images/weather.png", result: pngMagic},
		{name: "null similarity", server: &gradeServer{rawBody: `{"similarity":null}`}, target: "/images/weather.png", result: pngMagic},
		{name: "timeout", server: &gradeServer{similarity: 90, delay: time.Second}, target: "/images/weather.png", result: pngMagic, timeout: 50 * time.Millisecond},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			timeout := tc.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			c := newClient(t, tc.server, timeout)
			got := c.GradeAttempt(context.Background(), tc.target, tc.result)
			assert.Equal(t, model.FallbackSimilarity, got)
		})
	}
}

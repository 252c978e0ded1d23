//go:build integration
// +build integration

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAuditStore struct {
	mu        sync.Mutex
	rows      []model.GradeAuditRecord
	batchErr  error
	rejectIDs map[string]bool
}

func (s *memoryAuditStore) Insert(ctx context.Context, rec *model.GradeAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectIDs[rec.RequestID] {
		return errors.New("constraint failed")
	}
	s.rows = append(s.rows, *rec)
	return nil
}

func (s *memoryAuditStore) InsertBatch(ctx context.Context, recs []*model.GradeAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	for _, r := range recs {
		s.rows = append(s.rows, *r)
	}
	return nil
}

func (s *memoryAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	require.NoError(t, rdb.Del(context.Background(), config.WorkerKey.PersistGradeAuditQueue).Err())
	return rdb
}

func TestAuditWorkerDrainsQueue(t *testing.T) {
	rdb := newRedis(t)
	st := &memoryAuditStore{}
	w := NewAuditWorker(st, rdb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	for i := range 3 {
		data, _ := json.Marshal(model.GradeAuditRecord{RequestID: uuid.NewString(), Similarity: 60 + i})
		require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistGradeAuditQueue, data).Err())
	}
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistGradeAuditQueue, "{not json").Err())

	assert.Eventually(t, func() bool { return st.count() == 3 }, 10*time.Second, 100*time.Millisecond)

	cancel()
	<-done
}

func TestAuditWorkerRequeuesFailedRows(t *testing.T) {
	rdb := newRedis(t)
	bad := uuid.NewString()
	st := &memoryAuditStore{batchErr: errors.New("database locked"), rejectIDs: map[string]bool{bad: true}}
	w := NewAuditWorker(st, rdb, zerolog.Nop())
	w.backoff = 0

	ctx := context.Background()
	w.flushSafe(ctx, []*model.GradeAuditRecord{
		{RequestID: uuid.NewString(), Similarity: 70},
		{RequestID: bad, Similarity: 50, Fallback: true},
	})

	assert.Equal(t, 1, st.count())

	raw, err := rdb.LRange(ctx, config.WorkerKey.PersistGradeAuditQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var rec model.GradeAuditRecord
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &rec))
	assert.Equal(t, bad, rec.RequestID)
}

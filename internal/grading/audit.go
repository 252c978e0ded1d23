package grading

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/model"
)

// AuditSink receives one record per grading request.
type AuditSink interface {
	Record(ctx context.Context, rec model.GradeAuditRecord) error
}

// AuditWriter persists audit records synchronously.
type AuditWriter interface {
	Insert(ctx context.Context, rec *model.GradeAuditRecord) error
}

// RedisAuditSink pushes records onto the audit queue for the audit worker.
type RedisAuditSink struct {
	rdb *redis.Client
}

func NewRedisAuditSink(rdb *redis.Client) *RedisAuditSink {
	return &RedisAuditSink{rdb: rdb}
}

func (s *RedisAuditSink) Record(ctx context.Context, rec model.GradeAuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistGradeAuditQueue, data).Err()
}

// DirectAuditSink writes records straight to the audit table.
type DirectAuditSink struct {
	w AuditWriter
}

func NewDirectAuditSink(w AuditWriter) *DirectAuditSink {
	return &DirectAuditSink{w: w}
}

func (s *DirectAuditSink) Record(ctx context.Context, rec model.GradeAuditRecord) error {
	return s.w.Insert(ctx, &rec)
}

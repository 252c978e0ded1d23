package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/model"
)

// Grader validates uploads, calls the vision model and audits every outcome.
type Grader struct {
	model VisionModel
	sink  AuditSink
	log   zerolog.Logger
	now   func() time.Time
}

// NewGrader creates a Grader. sink may be nil.
func NewGrader(m VisionModel, sink AuditSink, log zerolog.Logger) *Grader {
	return &Grader{
		model: m,
		sink:  sink,
		log:   log.With().Str("component", "grader").Logger(),
		now:   time.Now,
	}
}

// Upload validation errors.
var (
	ErrMissingImage     = errors.New("screenshot missing")
	ErrUnsupportedImage = errors.New("unsupported screenshot type")
)

// Validate checks both uploads before any model call.
func Validate(target, result *Image) error {
	if target == nil || result == nil {
		return ErrMissingImage
	}
	if !AllowedMIMETypes[target.MIMEType] || !AllowedMIMETypes[result.MIMEType] {
		return ErrUnsupportedImage
	}
	return nil
}

// Grade compares the two screenshots. The similarity is clamped into
// [1, 100].
func (g *Grader) Grade(ctx context.Context, target, result Image) (model.GradeResult, error) {
	if g.model == nil {
		return model.GradeResult{}, errors.New("grading model not configured")
	}

	res, err := g.model.Compare(ctx, target, result)
	if err != nil {
		return model.GradeResult{}, fmt.Errorf("compare screenshots: %w", err)
	}

	if clamped := model.ClampSimilarity(res.Similarity); clamped != res.Similarity {
		g.log.Warn().Int("raw", res.Similarity).Int("clamped", clamped).Msg("Similarity out of range")
		res.Similarity = clamped
	}
	return res, nil
}

// Audit queues a record of one grading request. Failures are logged only.
func (g *Grader) Audit(ctx context.Context, requestID string, res model.GradeResult, gradeErr error) {
	if g.sink == nil {
		return
	}

	rec := model.GradeAuditRecord{
		RequestID:  requestID,
		Similarity: res.Similarity,
		Reasoning:  res.Reasoning,
		Fallback:   gradeErr != nil,
		GradedAt:   g.now().UnixMilli(),
	}
	if gradeErr != nil {
		rec.Error = gradeErr.Error()
	}

	if err := g.sink.Record(ctx, rec); err != nil {
		g.log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to record grade audit")
	}
}

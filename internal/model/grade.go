package model

// FallbackSimilarity stands in for the quality score whenever grading fails.
const FallbackSimilarity = 50

// Similarity bounds.
const (
	MinSimilarity = 1
	MaxSimilarity = 100
)

// GradeResult is the response of a successful grading call.
type GradeResult struct {
	Similarity int    `json:"similarity"`
	Reasoning  string `json:"reasoning"`
}

// GradeFailure is the 500 body of the grading endpoint. It always carries a
// usable similarity so callers can read the body uniformly.
type GradeFailure struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Similarity int    `json:"similarity"`
	Reasoning  string `json:"reasoning"`
}

// NewGradeFailure returns the fixed fallback payload.
func NewGradeFailure() GradeFailure {
	return GradeFailure{
		Error:      "Internal server error",
		Message:    "Unable to grade screenshot comparison",
		Similarity: FallbackSimilarity,
		Reasoning:  "An error occurred while processing the images. Please try again.",
	}
}

// GradeValidationError is the 400 body of the grading endpoint.
type GradeValidationError struct {
	Error string `json:"error"`
}

// ClampSimilarity forces s into [MinSimilarity, MaxSimilarity].
func ClampSimilarity(s int) int {
	if s < MinSimilarity {
		return MinSimilarity
	}
	if s > MaxSimilarity {
		return MaxSimilarity
	}
	return s
}

// GradeAuditRecord is queued for every grading attempt, success or fallback.
type GradeAuditRecord struct {
	RequestID  string `json:"request_id"`
	Similarity int    `json:"similarity"`
	Reasoning  string `json:"reasoning"`
	Fallback   bool   `json:"fallback"`
	Error      string `json:"error,omitempty"`
	GradedAt   int64  `json:"graded_at"`
}

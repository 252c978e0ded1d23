package grading

import (
	"context"
	"errors"

	"github.com/stemsi/clonearena-backend/internal/model"
)

// ErrMalformedResponse is returned when the model output cannot be read
// as a grade.
var ErrMalformedResponse = errors.New("malformed grading response")

// Image is one uploaded screenshot.
type Image struct {
	Data     []byte
	MIMEType string
}

// AllowedMIMETypes lists the screenshot content types the grader accepts.
var AllowedMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
}

// VisionModel compares a target design against an implementation. The
// returned similarity may be out of range; Grader clamps it.
type VisionModel interface {
	Compare(ctx context.Context, target, result Image) (model.GradeResult, error)
}

// systemPrompt is the rubric handed to the vision model.
const systemPrompt = `You are an expert UI/UX evaluator specializing in visual design comparison. Your task is to compare two screenshots: a target design and a result implementation.

The result is a capture of the whole workbench. Compare ONLY the small preview window on the right side, which holds the user's implementation. Ignore everything outside that virtual environment.

Analyze these key aspects:
1. **Layout & Structure**: Overall positioning, grid alignment, spacing between elements
2. **Visual Design**: Colors, fonts, sizes, shadows, borders, gradients
3. **Content Accuracy**: Text content, images, icons, buttons
4. **Responsive Design**: How elements are positioned relative to each other
5. **Visual Hierarchy**: Emphasis, contrast, visual flow
6. **Pixel Perfection**: Exact positioning, margins, padding
7. **Overall Polish**: Professional appearance, attention to detail

Provide a similarity score from 1-100 where:
- 90-100: Nearly identical, minor differences
- 80-89: Very similar, some noticeable differences
- 70-79: Similar overall design, several differences
- 60-69: Recognizable as same design, significant differences
- 50-59: Some similarities but major differences
- 40-49: Different design with some shared elements
- 30-39: Very different, few similarities
- 20-29: Completely different design
- 1-19: No resemblance

In your reasoning, be specific about what matches well and what differs. Mention colors, spacing, typography, layout elements, and any missing or extra components.`

const userPrompt = "Please compare these two screenshots. The first image is the target design that should be achieved, and the second image is the result that was implemented. Analyze how closely the result matches the target and provide a similarity score with detailed reasoning."

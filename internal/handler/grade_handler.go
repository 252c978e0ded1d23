package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/grading"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/response"
)

// Multipart field names of the grading endpoint.
const (
	fieldTargetScreenshot = "targetScreenshot"
	fieldResultScreenshot = "resultScreenshot"
)

// Fixed 400 messages.
const (
	msgMissingScreenshots = "Both targetScreenshot and resultScreenshot files are required"
	msgUnsupportedImage   = "Only PNG and JPEG image files are supported"
)

// GradeHandler serves the screenshot comparison endpoint. Its bodies are
// bare JSON, not the response envelope.
type GradeHandler struct {
	grader   *grading.Grader
	maxBytes int64
	log      zerolog.Logger
}

func NewGradeHandler(grader *grading.Grader, maxUploadBytes int64, log zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		grader:   grader,
		maxBytes: maxUploadBytes,
		log:      log.With().Str("component", "grade_handler").Logger(),
	}
}

// GradeResult godoc
// POST /api/grade-result
// Compares a target screenshot with a result screenshot.
func (h *GradeHandler) GradeResult(c *gin.Context) {
	if h.maxBytes > 0 {
		// Both images plus multipart framing.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxBytes+1<<20)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, model.GradeValidationError{Error: msgMissingScreenshots})
		return
	}

	target, err := h.readImage(form, fieldTargetScreenshot)
	if err != nil {
		h.fail(c, err)
		return
	}
	result, err := h.readImage(form, fieldResultScreenshot)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := grading.Validate(target, result); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	requestID := response.RequestID(c)

	res, err := h.grader.Grade(ctx, *target, *result)
	h.grader.Audit(ctx, requestID, res, err)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", requestID).Msg("Grading failed")
		c.JSON(http.StatusInternalServerError, model.NewGradeFailure())
		return
	}

	h.log.Info().Str("request_id", requestID).Int("similarity", res.Similarity).Msg("Screenshots graded")
	c.JSON(http.StatusOK, res)
}

// readImage returns nil when the part is absent. The MIME type is the
// one the client declared on the part.
func (h *GradeHandler) readImage(form *multipart.Form, field string) (*grading.Image, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return nil, errFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &grading.Image{Data: data, MIMEType: fh.Header.Get("Content-Type")}, nil
}

var errFileTooLarge = errors.New("file too large")

func (h *GradeHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, grading.ErrMissingImage):
		c.JSON(http.StatusBadRequest, model.GradeValidationError{Error: msgMissingScreenshots})
	case errors.Is(err, grading.ErrUnsupportedImage):
		c.JSON(http.StatusBadRequest, model.GradeValidationError{Error: msgUnsupportedImage})
	case errors.Is(err, errFileTooLarge):
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
	default:
		h.log.Error().Err(err).Msg("Read upload failed")
		c.JSON(http.StatusInternalServerError, model.NewGradeFailure())
	}
}

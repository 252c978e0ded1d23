package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/capture"
	"github.com/stemsi/clonearena-backend/internal/middleware"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/response"
	"github.com/stemsi/clonearena-backend/internal/service"
	"github.com/stemsi/clonearena-backend/internal/submission"
	"github.com/stemsi/clonearena-backend/internal/validator"
)

// AttemptHandler drives the tab's challenge attempt: consent, submit
// dialog and result redirect.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/attempt
// Enters a challenge and opens the screen-share consent prompt.
func (h *AttemptHandler) Start(c *gin.Context) {
	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), middleware.GetTabID(c), req.ChallengeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt.Snapshot()})
}

// Get godoc
// GET /api/v1/attempt
func (h *AttemptHandler) Get(c *gin.Context) {
	attempt, ok := h.current(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.Snapshot()})
}

// End godoc
// DELETE /api/v1/attempt
// Leaves the challenge, stopping the timer and screen sharing.
func (h *AttemptHandler) End(c *gin.Context) {
	h.attemptService.End(middleware.GetTabID(c))
	c.Status(http.StatusNoContent)
}

// AcceptScreenShare godoc
// POST /api/v1/attempt/screen-share
func (h *AttemptHandler) AcceptScreenShare(c *gin.Context) {
	attempt, ok := h.current(c)
	if !ok {
		return
	}

	res, err := attempt.AcceptScreenShare(c.Request.Context())
	if errors.Is(err, submission.ErrConsentFailed) {
		response.FailWithDetail(c, http.StatusUnprocessableEntity, response.ErrScreenShareFailed, res.Error)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.Snapshot()})
}

// Decline godoc
// POST /api/v1/attempt/decline
func (h *AttemptHandler) Decline(c *gin.Context) {
	h.step(c, func(a *submission.Attempt) error { return a.Decline(c.Request.Context()) })
}

// Submit godoc
// POST /api/v1/attempt/submit
// Opens the confirmation dialog and returns after the proctoring capture.
func (h *AttemptHandler) Submit(c *gin.Context) {
	h.step(c, func(a *submission.Attempt) error { return a.Submit(c.Request.Context()) })
}

// Cancel godoc
// POST /api/v1/attempt/cancel
func (h *AttemptHandler) Cancel(c *gin.Context) {
	h.step(c, func(a *submission.Attempt) error { return a.Cancel(c.Request.Context()) })
}

// Confirm godoc
// POST /api/v1/attempt/confirm
// Grades the attempt and returns the results redirect.
func (h *AttemptHandler) Confirm(c *gin.Context) {
	attempt, ok := h.current(c)
	if !ok {
		return
	}

	outcome, err := attempt.Confirm(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"outcome": outcome})
}

// Screenshot godoc
// GET /api/v1/attempt/screenshot
// Returns the stored proctoring screenshot as PNG.
func (h *AttemptHandler) Screenshot(c *gin.Context) {
	shot, err := h.attemptService.Screenshot(middleware.GetTabID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", shot)
}

// SaveScreenshot godoc
// POST /api/v1/attempt/screenshot/save
// Writes the stored screenshot into the screenshot directory.
func (h *AttemptHandler) SaveScreenshot(c *gin.Context) {
	res, err := h.attemptService.SaveScreenshot(middleware.GetTabID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Success {
		response.FailWithDetail(c, http.StatusNotFound, response.ErrNoScreenshot, res.Error)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"screenshot": res})
}

func (h *AttemptHandler) step(c *gin.Context, fn func(*submission.Attempt) error) {
	attempt, ok := h.current(c)
	if !ok {
		return
	}
	if err := fn(attempt); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.Snapshot()})
}

func (h *AttemptHandler) current(c *gin.Context) (*submission.Attempt, bool) {
	attempt, err := h.attemptService.Get(middleware.GetTabID(c))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return attempt, true
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoActiveAttempt), errors.Is(err, submission.ErrAttemptClosed):
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveAttempt)
	case errors.Is(err, repository.ErrChallengeNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrChallengeNotFound)
	case errors.Is(err, submission.ErrAttemptExpired):
		response.Fail(c, http.StatusConflict, response.ErrTimeUp)
	case errors.Is(err, submission.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.ErrActionNotAllowed)
	case errors.Is(err, capture.ErrNoScreenshot):
		response.Fail(c, http.StatusNotFound, response.ErrNoScreenshot)
	default:
		h.log.Error().Err(err).Str("tab_id", middleware.GetTabID(c)).Msg("Attempt action failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/clonearena-backend/internal/middleware"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/response"
	"github.com/stemsi/clonearena-backend/internal/service"
	"github.com/stemsi/clonearena-backend/internal/validator"
)

type ChallengeHandler struct {
	challengeService *service.ChallengeService
}

func NewChallengeHandler(challengeService *service.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challengeService: challengeService}
}

// List godoc
// GET /api/v1/challenges
func (h *ChallengeHandler) List(c *gin.Context) {
	items := h.challengeService.List(c.Request.Context(), middleware.GetTabID(c))
	response.Success(c, http.StatusOK, gin.H{"challenges": items})
}

// Get godoc
// GET /api/v1/challenges/:id
func (h *ChallengeHandler) Get(c *gin.Context) {
	var uri model.ChallengeURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	challenge, err := h.challengeService.Get(uri.ID)
	if err != nil {
		failChallenge(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"challenge": challenge})
}

// AddPromptScore godoc
// POST /api/v1/challenges/:id/prompt-scores
func (h *ChallengeHandler) AddPromptScore(c *gin.Context) {
	var uri model.ChallengeURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var req model.AddPromptScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPromptScore, fields)
		return
	}

	summary, err := h.challengeService.AddPromptScore(c.Request.Context(), middleware.GetTabID(c), uri.ID, req.Score)
	if err != nil {
		failChallenge(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"prompt_scores": summary})
}

// PromptScore godoc
// GET /api/v1/challenges/:id/prompt-scores
func (h *ChallengeHandler) PromptScore(c *gin.Context) {
	var uri model.ChallengeURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	summary, err := h.challengeService.PromptScore(c.Request.Context(), middleware.GetTabID(c), uri.ID)
	if err != nil {
		failChallenge(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"prompt_scores": summary})
}

func failChallenge(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrChallengeNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrChallengeNotFound)
		return
	}
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}

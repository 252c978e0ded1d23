package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/response"
	"github.com/stemsi/clonearena-backend/internal/service"
)

// TabHandler issues tab tokens. A tab token scopes every challenge
// context, prompt score and solved marker to one browser tab.
type TabHandler struct {
	tabService *service.TabService
	log        zerolog.Logger
}

func NewTabHandler(tabService *service.TabService, log zerolog.Logger) *TabHandler {
	return &TabHandler{
		tabService: tabService,
		log:        log.With().Str("component", "tab_handler").Logger(),
	}
}

// Open godoc
// POST /api/v1/tabs
func (h *TabHandler) Open(c *gin.Context) {
	sess, err := h.tabService.IssueTab()
	if err != nil {
		h.log.Error().Err(err).Msg("Issue tab token failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Debug().Str("tab_id", sess.TabID).Msg("Tab opened")
	response.Success(c, http.StatusCreated, gin.H{"tab": sess})
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/middleware"
	"github.com/stemsi/clonearena-backend/internal/response"
	"github.com/stemsi/clonearena-backend/internal/service"
	ws "github.com/stemsi/clonearena-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt status and submission broadcasts to a tab.
type WSHandler struct {
	attemptService *service.AttemptService
	bus            events.Bus
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, bus events.Bus, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		bus:            bus,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// EventStream godoc
// WS /ws/v1/events?token=
// Pushes the tab's attempt status on every change together with the
// tab's own challenge_submit broadcasts.
func (h *WSHandler) EventStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	tabID := claims.TabID
	wsLog := h.log.With().Str("tab_id", tabID).Logger()
	wsLog.Info().Msg("Tab connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statuses := h.attemptService.Subscribe(ctx, tabID)
	submits := h.bus.Subscribe(ctx)
	actions := h.readActions(ctx, conn, wsLog)

	h.writeSnapshot(conn, tabID)

	// Every write happens on this goroutine; gorilla connections allow a
	// single concurrent writer.
	for {
		select {
		case action, ok := <-actions:
			if !ok {
				return
			}
			switch action {
			case ws.ActionPing:
				_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionSnapshot:
				h.writeSnapshot(conn, tabID)
			default:
				wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
				_ = ws.WriteError(conn, "unknown action: "+string(action))
			}

		case st, ok := <-statuses:
			if !ok {
				return
			}
			if err := ws.WriteTyped(conn, ws.StatusResponse{Event: ws.EventStatus, Status: st}); err != nil {
				return
			}

		case ev, ok := <-submits:
			if !ok {
				return
			}
			if ev.TabID != tabID {
				continue
			}
			if err := ws.WriteTyped(conn, ws.SubmitResponse{Event: ws.EventChallengeSubmit, Payload: ev}); err != nil {
				return
			}
		}
	}
}

// readActions pumps client actions until the connection closes.
func (h *WSHandler) readActions(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger) <-chan ws.Action {
	out := make(chan ws.Action)
	go func() {
		defer close(out)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			select {
			case out <- msg.Action:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (h *WSHandler) writeSnapshot(conn *websocket.Conn, tabID string) {
	attempt, err := h.attemptService.Get(tabID)
	if err != nil {
		return
	}
	_ = ws.WriteTyped(conn, ws.StatusResponse{Event: ws.EventStatus, Status: attempt.Snapshot()})
}

package websocket

import (
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/submission"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
	// ActionSnapshot asks for the current attempt status.
	ActionSnapshot Action = "snapshot"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStatus          Event = "status"
	EventChallengeSubmit Event = "challenge_submit"
	EventError           Event = "error"
	EventPong            Event = "pong"
)

// StatusResponse carries one attempt status update.
type StatusResponse struct {
	Event  Event             `json:"event"`
	Status submission.Status `json:"status"`
}

// SubmitResponse relays a submission broadcast from the event bus.
type SubmitResponse struct {
	Event   Event              `json:"event"`
	Payload events.SubmitEvent `json:"payload"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

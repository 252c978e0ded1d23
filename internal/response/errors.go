package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Tab tokens ────────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound          ErrCode = "NOT_FOUND"
	ErrChallengeNotFound ErrCode = "CHALLENGE_NOT_FOUND"

	// ─── Attempt flow ──────────────────────────────────────────────────
	ErrNoActiveAttempt    ErrCode = "NO_ACTIVE_ATTEMPT"
	ErrActionNotAllowed   ErrCode = "ACTION_NOT_ALLOWED"
	ErrScreenShareFailed  ErrCode = "SCREEN_SHARE_FAILED"
	ErrTimeUp             ErrCode = "TIME_UP"
	ErrNoScreenshot       ErrCode = "NO_SCREENSHOT"
	ErrInvalidPromptScore ErrCode = "INVALID_PROMPT_SCORE"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileTooLarge ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Tab tokens ────────────────────────────────────────────────────
	case ErrTokenRequired:
		return "A tab token is required."
	case ErrTokenInvalid:
		return "The tab token is invalid."
	case ErrTokenExpired:
		return "The tab token has expired. Open a new tab session."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrChallengeNotFound:
		return "Challenge not found."

	// ─── Attempt flow ──────────────────────────────────────────────────
	case ErrNoActiveAttempt:
		return "No challenge attempt is active for this tab."
	case ErrActionNotAllowed:
		return "This action is not allowed at the current step of the attempt."
	case ErrScreenShareFailed:
		return "Failed to start screen sharing."
	case ErrTimeUp:
		return "Time is up. Your solution is being submitted."
	case ErrNoScreenshot:
		return "No screenshot has been captured yet."
	case ErrInvalidPromptScore:
		return "Prompt scores must be between 1 and 5."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileTooLarge:
		return "File size exceeds the limit."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

package state

import "fmt"

// RejectionCode categorises why an action was refused. Rejections are local
// to the offending action: state is unchanged and, apart from an optional
// echo to the originating client, the rejection is the only observable
// effect.
type RejectionCode string

const (
	// CodeStaleStateID means the claimed state ID did not match the
	// authoritative one (optimistic-concurrency guard).
	CodeStaleStateID RejectionCode = "STALE_STATE_ID"

	// CodeNotActive means the acting player is not currently permitted to
	// act under the turn-order and stage rules.
	CodeNotActive RejectionCode = "NOT_ACTIVE_PLAYER"

	// CodeUnknownMove means no handler is registered for the move.
	CodeUnknownMove RejectionCode = "UNKNOWN_MOVE"

	// CodeUnknownEvent means the game event name is not recognised.
	CodeUnknownEvent RejectionCode = "UNKNOWN_EVENT"

	// CodeInvalidMove means the game's own move handler signalled
	// illegality. Distinguished from the engine-level rejections only for
	// diagnostics.
	CodeInvalidMove RejectionCode = "INVALID_MOVE"

	// CodeGameOver means the match already has a terminal result.
	CodeGameOver RejectionCode = "GAME_OVER"

	// CodeMalformed means the action shape itself is unusable.
	CodeMalformed RejectionCode = "MALFORMED_ACTION"

	// CodeUnauthorized means credential verification failed.
	CodeUnauthorized RejectionCode = "UNAUTHORIZED"

	// CodeUnknownMatch means the match ID does not resolve.
	CodeUnknownMatch RejectionCode = "UNKNOWN_MATCH"

	// CodeWrongPlayer means the action's player ID does not match the
	// authenticated caller, or an undo/redo was attempted by a player who
	// did not make the relevant move.
	CodeWrongPlayer RejectionCode = "WRONG_PLAYER"
)

// Rejection is the error returned when an action is refused without mutating
// state.
type Rejection struct {
	Code   RejectionCode
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// Rejectf builds a Rejection with a formatted reason.
func Rejectf(code RejectionCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

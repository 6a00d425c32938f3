package nakama

const (
	// RpcCreateMatch is the RPC id clients call to create a match.
	RpcCreateMatch = "create_match"

	// RpcFindMatch is the RPC id clients call to find or create an open
	// match.
	RpcFindMatch = "find_match"

	// MatchName is the authoritative match handler name registered with
	// Nakama. The game is selected through match creation params.
	MatchName = "turnforge_match"
)

// Op codes. Payloads are JSON-encoded wire envelopes in both directions; the
// op code only distinguishes traffic direction for client SDKs.
const (
	// Client -> Server
	OpRequest int64 = 1

	// Server -> Client
	OpEnvelope int64 = 101
)

// Match label keys, queryable via Nakama's match listing.
const (
	LabelKeyGame      = "game"
	LabelKeyOpenSeats = "open"
	LabelKeyGameover  = "gameover"
)

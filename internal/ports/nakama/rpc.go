package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// FindMatchResponse is the payload returned to clients looking for a seat.
type FindMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

// CreateMatchRequest parameterises explicit match creation.
type CreateMatchRequest struct {
	NumPlayers int `json:"num_players,omitempty"`
}

// RegisterRPCs registers the lobby RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	if err := initializer.RegisterRpc(RpcFindMatch, rpcFindMatch); err != nil {
		return err
	}
	return initializer.RegisterRpc(RpcCreateMatch, rpcCreateMatch)
}

// rpcFindMatch returns an open match with a free seat, creating one when
// nothing suitable exists.
func rpcFindMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

	query := fmt.Sprintf("+label.%s:>=1", LabelKeyOpenSeats)
	limit := 1
	authoritative := true
	minSize := 0
	maxSize := 16

	matches, err := nk.MatchList(ctx, limit, authoritative, "", &minSize, &maxSize, query)
	if err != nil {
		logger.Error("rpcFindMatch [user:%s]: list matches: %v", userID, err)
		return "", err
	}
	if len(matches) > 0 {
		return marshalResponse(FindMatchResponse{MatchID: matches[0].MatchId})
	}

	matchID, err := nk.MatchCreate(ctx, MatchName, nil)
	if err != nil {
		logger.Error("rpcFindMatch [user:%s]: create match: %v", userID, err)
		return "", err
	}
	return marshalResponse(FindMatchResponse{MatchID: matchID, IsNew: true})
}

// rpcCreateMatch always creates a fresh match.
func rpcCreateMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	var req CreateMatchRequest
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", runtime.NewError("invalid payload", 3)
		}
	}
	params := map[string]interface{}{}
	if req.NumPlayers > 0 {
		params["num_players"] = float64(req.NumPlayers)
	}
	matchID, err := nk.MatchCreate(ctx, MatchName, params)
	if err != nil {
		logger.Error("rpcCreateMatch: %v", err)
		return "", err
	}
	return marshalResponse(FindMatchResponse{MatchID: matchID, IsNew: true})
}

func marshalResponse(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

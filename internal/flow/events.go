package flow

import (
	"turnforge/internal/game"
	"turnforge/internal/state"
)

// Game event names accepted by ProcessEvent.
const (
	EventEndTurn          = "endTurn"
	EventEndPhase         = "endPhase"
	EventEndStage         = "endStage"
	EventSetStage         = "setStage"
	EventSetActivePlayers = "setActivePlayers"
)

// ProcessEvent dispatches a GAME_EVENT to the machine. Events never touch G;
// they only drive turn, phase and stage transitions. The caller must be
// currently permitted to act.
func (m *Machine) ProcessEvent(fr *Frame, name string, args []any, playerID string) *state.Rejection {
	if fr.Ctx.Gameover != nil {
		return state.Rejectf(state.CodeGameOver, "game is over")
	}
	if !fr.Ctx.PlayerIsActive(playerID) {
		return state.Rejectf(state.CodeNotActive, "player %q may not raise events", playerID)
	}
	cp := m.phase(fr.Ctx)

	switch name {
	case EventEndTurn:
		if fr.Ctx.ActivePlayers == nil && fr.Ctx.NumMoves < cp.Turn.MinMoves {
			return state.Rejectf(state.CodeInvalidMove, "turn requires at least %d moves", cp.Turn.MinMoves)
		}
		next := optionString(args, "next")
		if next != "" && indexOf(fr.Ctx.PlayOrder, next) < 0 {
			return state.Rejectf(state.CodeMalformed, "next player %q is not in the play order", next)
		}
		m.EndTurn(fr, next)
		return nil

	case EventEndPhase:
		next := optionString(args, "next")
		if next == "" {
			next = cp.Next
		}
		if _, ok := m.p.LookupPhase(next); !ok {
			return state.Rejectf(state.CodeMalformed, "phase %q does not exist", next)
		}
		m.EndPhase(fr, next)
		return nil

	case EventEndStage:
		if fr.Ctx.ActivePlayers == nil {
			return state.Rejectf(state.CodeInvalidMove, "no stage is active")
		}
		if min, ok := fr.Ctx.ActiveMinMoves[playerID]; ok && fr.Ctx.ActiveMoves[playerID] < min {
			return state.Rejectf(state.CodeInvalidMove, "stage requires at least %d moves", min)
		}
		m.endStageFor(fr, cp, playerID)
		return nil

	case EventSetStage:
		stage, opts := stageArg(args)
		if stage != "" {
			if cp.Turn.Stages == nil {
				return state.Rejectf(state.CodeMalformed, "phase %q has no stages", cp.Name)
			}
			if _, ok := cp.Turn.Stages[stage]; !ok {
				return state.Rejectf(state.CodeMalformed, "stage %q does not exist", stage)
			}
		}
		m.setStageFor(fr, playerID, stage, opts)
		return nil

	case EventSetActivePlayers:
		cfg, rej := activePlayersArg(args)
		if rej != nil {
			return rej
		}
		m.installActivePlayers(fr, cfg)
		return nil

	default:
		return state.Rejectf(state.CodeUnknownEvent, "unknown game event %q", name)
	}
}

// setStageFor places the calling player in a stage, creating the
// active-player window if none is installed.
func (m *Machine) setStageFor(fr *Frame, playerID, stage string, opts map[string]any) {
	ctx := fr.Ctx
	if ctx.ActivePlayers == nil {
		ctx.ActivePlayers = map[string]string{}
		ctx.ActiveMoves = map[string]int{}
	}
	ctx.ActivePlayers[playerID] = stage
	ctx.ActiveMoves[playerID] = 0
	if v, ok := numberOpt(opts, "minMoves"); ok {
		if ctx.ActiveMinMoves == nil {
			ctx.ActiveMinMoves = map[string]int{}
		}
		ctx.ActiveMinMoves[playerID] = v
	}
	if v, ok := numberOpt(opts, "maxMoves"); ok {
		if ctx.ActiveMaxMoves == nil {
			ctx.ActiveMaxMoves = map[string]int{}
		}
		ctx.ActiveMaxMoves[playerID] = v
	}
}

// optionString reads a string field from an event's single option-object
// argument, accepting a bare string argument as shorthand.
func optionString(args []any, key string) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case map[string]any:
		s, _ := v[key].(string)
		return s
	default:
		return ""
	}
}

func stageArg(args []any) (string, map[string]any) {
	if len(args) == 0 {
		return "", nil
	}
	switch v := args[0].(type) {
	case string:
		return v, nil
	case map[string]any:
		s, _ := v["stage"].(string)
		return s, v
	default:
		return "", nil
	}
}

func activePlayersArg(args []any) (*game.ActivePlayers, *state.Rejection) {
	if len(args) == 0 {
		return nil, state.Rejectf(state.CodeMalformed, "setActivePlayers requires a configuration argument")
	}
	obj, ok := args[0].(map[string]any)
	if !ok {
		return nil, state.Rejectf(state.CodeMalformed, "setActivePlayers argument must be an object")
	}
	cfg := &game.ActivePlayers{}
	cfg.All, _ = obj["all"].(bool)
	cfg.Others, _ = obj["others"].(bool)
	cfg.Stage, _ = obj["stage"].(string)
	if raw, ok := obj["players"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				cfg.Players = append(cfg.Players, s)
			}
		}
	}
	if v, ok := numberOpt(obj, "minMoves"); ok {
		cfg.MinMoves = v
	}
	if v, ok := numberOpt(obj, "maxMoves"); ok {
		cfg.MaxMoves = v
	}
	return cfg, nil
}

func numberOpt(obj map[string]any, key string) (int, bool) {
	if obj == nil {
		return 0, false
	}
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

package game

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"

	"turnforge/internal/state"
)

// DefaultUndoDepth bounds the undo/redo stacks when a definition does not
// set its own limit.
const DefaultUndoDepth = 64

// CompiledStage is a stage with its move set resolved.
type CompiledStage struct {
	Name  string
	Moves map[string]Move
	Next  string
}

// CompiledTurn is a turn configuration with all defaults applied.
type CompiledTurn struct {
	Order         Order
	MinMoves      int
	MaxMoves      int
	ActivePlayers *ActivePlayers
	Stages        map[string]*CompiledStage
	OnBegin       Hook
	OnEnd         Hook
	EndIf         Predicate
}

// CompiledPhase is a phase with moves merged and its turn resolved.
type CompiledPhase struct {
	Name    string
	Next    string
	Moves   map[string]Move
	Turn    *CompiledTurn
	EndIf   Predicate
	OnBegin Hook
	OnEnd   Hook
}

// Processed is the canonical descriptor produced from a Definition at
// registration time. All lookups the state machine performs at runtime
// resolve against it; unknown configuration fails here, not mid-match.
type Processed struct {
	Def        *Definition
	Phases     map[string]*CompiledPhase
	StartPhase string
	UndoDepth  int

	gType reflect.Type
	gPtr  bool

	redact map[string]bool
}

// Process validates a definition and resolves it into a Processed
// descriptor.
func Process(def *Definition) (*Processed, error) {
	if def == nil {
		return nil, fmt.Errorf("game definition is nil")
	}
	if def.Name == "" {
		return nil, fmt.Errorf("game name is required")
	}
	if def.Setup == nil {
		return nil, fmt.Errorf("game %q: setup function is required", def.Name)
	}
	if def.MinPlayers == 0 {
		def.MinPlayers = 2
	}
	if def.MaxPlayers == 0 {
		def.MaxPlayers = def.MinPlayers
	}
	if def.MaxPlayers < def.MinPlayers {
		return nil, fmt.Errorf("game %q: maxPlayers %d < minPlayers %d", def.Name, def.MaxPlayers, def.MinPlayers)
	}

	p := &Processed{
		Def:       def,
		Phases:    make(map[string]*CompiledPhase),
		UndoDepth: def.UndoDepth,
		redact:    make(map[string]bool, len(def.RedactMoves)),
	}
	if p.UndoDepth <= 0 {
		p.UndoDepth = DefaultUndoDepth
	}
	for _, name := range def.RedactMoves {
		if _, ok := def.Moves[name]; !ok {
			return nil, fmt.Errorf("game %q: redacted move %q is not registered", def.Name, name)
		}
		p.redact[name] = true
	}

	if err := p.compilePhases(); err != nil {
		return nil, err
	}
	if err := p.resolveGType(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustProcess is Process for statically-known definitions.
func MustProcess(def *Definition) *Processed {
	p, err := Process(def)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Processed) compilePhases() error {
	def := p.Def

	// The empty-named phase is the game-level configuration. It is always
	// present: it is the start phase when no phases are declared, and the
	// target when a named phase ends with no successor.
	p.Phases[""] = &CompiledPhase{
		Name:  "",
		Moves: def.Moves,
		Turn:  compileTurn(def.Turn),
	}
	if len(def.Phases) == 0 {
		p.StartPhase = ""
		return nil
	}

	start := ""
	seenStart := false
	for name, ph := range def.Phases {
		if name == "" {
			return fmt.Errorf("game %q: phase name must not be empty", def.Name)
		}
		if ph.Start {
			if seenStart {
				return fmt.Errorf("game %q: multiple start phases (%q, %q)", def.Name, start, name)
			}
			start = name
			seenStart = true
		}
	}
	if !seenStart {
		return fmt.Errorf("game %q: no start phase", def.Name)
	}
	p.StartPhase = start

	for name, ph := range def.Phases {
		turn := ph.Turn
		if turn == nil {
			turn = def.Turn
		}
		cp := &CompiledPhase{
			Name:    name,
			Next:    ph.Next,
			Moves:   mergeMoves(def.Moves, ph.Moves),
			Turn:    compileTurn(turn),
			EndIf:   ph.EndIf,
			OnBegin: ph.OnBegin,
			OnEnd:   ph.OnEnd,
		}
		if ph.Next != "" {
			if _, ok := def.Phases[ph.Next]; !ok {
				return fmt.Errorf("game %q: phase %q: next phase %q does not exist", def.Name, name, ph.Next)
			}
		}
		p.Phases[name] = cp
	}
	return nil
}

func compileTurn(t *Turn) *CompiledTurn {
	if t == nil {
		t = &Turn{}
	}
	ct := &CompiledTurn{
		Order:         t.Order,
		MinMoves:      t.MinMoves,
		MaxMoves:      t.MaxMoves,
		ActivePlayers: t.ActivePlayers,
		OnBegin:       t.OnBegin,
		OnEnd:         t.OnEnd,
		EndIf:         t.EndIf,
	}
	if len(t.Stages) > 0 {
		ct.Stages = make(map[string]*CompiledStage, len(t.Stages))
		for name, st := range t.Stages {
			ct.Stages[name] = &CompiledStage{Name: name, Moves: st.Moves, Next: st.Next}
		}
	}
	return ct
}

func mergeMoves(base, override map[string]Move) map[string]Move {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]Move, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// resolveGType learns the concrete type of G by probing Setup once. Setup
// must be side-effect free; the probe value is discarded.
func (p *Processed) resolveGType() error {
	probe := p.Def.Setup(&SetupContext{
		NumPlayers: p.Def.MinPlayers,
		Random:     rand.New(rand.NewSource(0)),
	})
	if probe == nil {
		return fmt.Errorf("game %q: setup returned nil", p.Def.Name)
	}
	rv := reflect.ValueOf(probe)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return fmt.Errorf("game %q: setup returned a nil pointer", p.Def.Name)
		}
		p.gType = rv.Type().Elem()
		p.gPtr = true
	case reflect.Map, reflect.Slice:
		p.gType = rv.Type()
	case reflect.Struct:
		return fmt.Errorf("game %q: setup must return a pointer, map or slice so moves can mutate G", p.Def.Name)
	default:
		return fmt.Errorf("game %q: unsupported G kind %s", p.Def.Name, rv.Kind())
	}
	return nil
}

// DecodeG materialises the opaque G payload into the game's concrete type.
func (p *Processed) DecodeG(raw json.RawMessage) (any, error) {
	v := reflect.New(p.gType)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return nil, fmt.Errorf("decode G: %w", err)
	}
	if p.gPtr {
		return v.Interface(), nil
	}
	return v.Elem().Interface(), nil
}

// EncodeG serialises G back into its opaque wire form.
func (p *Processed) EncodeG(g any) (json.RawMessage, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode G: %w", err)
	}
	return raw, nil
}

// LookupPhase returns the compiled phase with the given name.
func (p *Processed) LookupPhase(name string) (*CompiledPhase, bool) {
	cp, ok := p.Phases[name]
	return cp, ok
}

// LookupMove resolves a move handler for the given phase and stage. Stage
// move sets override phase move sets; an empty stage name means the phase's
// default set.
func (p *Processed) LookupMove(phase, stage, name string) (Move, bool) {
	cp, ok := p.Phases[phase]
	if !ok {
		return nil, false
	}
	if stage != "" && cp.Turn.Stages != nil {
		if st, ok := cp.Turn.Stages[stage]; ok && st.Moves != nil {
			mv, ok := st.Moves[name]
			return mv, ok
		}
	}
	mv, ok := cp.Moves[name]
	return mv, ok
}

// Redacted reports whether log entries for the move should be flagged for
// redaction.
func (p *Processed) Redacted(moveName string) bool { return p.redact[moveName] }

// FilterG applies the game's player view, returning the filtered opaque
// payload. Without a PlayerView hook the input is returned unchanged.
func (p *Processed) FilterG(raw json.RawMessage, ctx *state.Ctx, playerID string) (json.RawMessage, error) {
	if p.Def.PlayerView == nil {
		return raw, nil
	}
	g, err := p.DecodeG(raw)
	if err != nil {
		return nil, err
	}
	filtered := p.Def.PlayerView(g, ctx, playerID)
	return json.Marshal(filtered)
}

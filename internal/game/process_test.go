package game

import (
	"testing"

	"turnforge/internal/state"
)

type counter struct {
	N int `json:"n"`
}

func counterDef() *Definition {
	return &Definition{
		Name:  "counter",
		Setup: func(sc *SetupContext) any { return &counter{} },
		Moves: map[string]Move{
			"bump": func(mc *MoveContext) error {
				mc.G.(*counter).N++
				return nil
			},
		},
	}
}

func TestProcessDefaults(t *testing.T) {
	p, err := Process(counterDef())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.Def.MinPlayers != 2 || p.Def.MaxPlayers != 2 {
		t.Errorf("player defaults = [%d, %d], want [2, 2]", p.Def.MinPlayers, p.Def.MaxPlayers)
	}
	if p.UndoDepth != DefaultUndoDepth {
		t.Errorf("UndoDepth = %d, want %d", p.UndoDepth, DefaultUndoDepth)
	}
	if p.StartPhase != "" {
		t.Errorf("StartPhase = %q, want game-level phase", p.StartPhase)
	}
	if _, ok := p.LookupPhase(""); !ok {
		t.Errorf("game-level phase missing")
	}
}

func TestProcessValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Definition)
	}{
		{"missing name", func(d *Definition) { d.Name = "" }},
		{"missing setup", func(d *Definition) { d.Setup = nil }},
		{"max below min", func(d *Definition) { d.MinPlayers = 4; d.MaxPlayers = 2 }},
		{"unknown redacted move", func(d *Definition) { d.RedactMoves = []string{"nope"} }},
		{"empty phase name", func(d *Definition) {
			d.Phases = map[string]*Phase{"": {Start: true}}
		}},
		{"no start phase", func(d *Definition) {
			d.Phases = map[string]*Phase{"a": {}}
		}},
		{"dangling next phase", func(d *Definition) {
			d.Phases = map[string]*Phase{"a": {Start: true, Next: "ghost"}}
		}},
		{"struct G", func(d *Definition) {
			d.Setup = func(sc *SetupContext) any { return counter{} }
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := counterDef()
			tt.mutate(def)
			if _, err := Process(def); err == nil {
				t.Fatalf("Process accepted invalid definition")
			}
		})
	}
}

func TestProcessMultipleStartPhases(t *testing.T) {
	def := counterDef()
	def.Phases = map[string]*Phase{
		"a": {Start: true},
		"b": {Start: true},
	}
	if _, err := Process(def); err == nil {
		t.Fatalf("Process accepted two start phases")
	}
}

func TestLookupMoveStageOverride(t *testing.T) {
	def := counterDef()
	stageBump := func(mc *MoveContext) error { return nil }
	def.Turn = &Turn{
		Stages: map[string]*Stage{
			"locked": {Moves: map[string]Move{"stageOnly": stageBump}},
			"open":   {},
		},
	}
	p := MustProcess(def)

	if _, ok := p.LookupMove("", "", "bump"); !ok {
		t.Errorf("phase move not found outside stages")
	}
	if _, ok := p.LookupMove("", "locked", "stageOnly"); !ok {
		t.Errorf("stage move not found in its stage")
	}
	if _, ok := p.LookupMove("", "locked", "bump"); ok {
		t.Errorf("stage with own move set should hide phase moves")
	}
	if _, ok := p.LookupMove("", "open", "bump"); !ok {
		t.Errorf("stage without move set should inherit phase moves")
	}
}

func TestEncodeDecodeG(t *testing.T) {
	p := MustProcess(counterDef())
	raw, err := p.EncodeG(&counter{N: 3})
	if err != nil {
		t.Fatalf("EncodeG: %v", err)
	}
	g, err := p.DecodeG(raw)
	if err != nil {
		t.Fatalf("DecodeG: %v", err)
	}
	c, ok := g.(*counter)
	if !ok || c.N != 3 {
		t.Fatalf("decoded G = %#v", g)
	}
}

func TestFilterG(t *testing.T) {
	def := counterDef()
	def.PlayerView = func(g any, ctx *state.Ctx, playerID string) any {
		if playerID == "0" {
			return g
		}
		return &counter{}
	}
	p := MustProcess(def)
	raw, _ := p.EncodeG(&counter{N: 5})

	own, err := p.FilterG(raw, &state.Ctx{}, "0")
	if err != nil || string(own) != `{"n":5}` {
		t.Fatalf("own view = %s, %v", own, err)
	}
	other, err := p.FilterG(raw, &state.Ctx{}, "1")
	if err != nil || string(other) != `{"n":0}` {
		t.Fatalf("filtered view = %s, %v", other, err)
	}
}

func TestRedacted(t *testing.T) {
	def := counterDef()
	def.RedactMoves = []string{"bump"}
	p := MustProcess(def)
	if !p.Redacted("bump") {
		t.Errorf("bump should be redacted")
	}
	if p.Redacted("other") {
		t.Errorf("unknown move should not be redacted")
	}
}

func TestMoveContextArgs(t *testing.T) {
	mc := NewMoveContext(nil, &state.Ctx{}, "0", nil, []any{float64(3), "x", true, map[string]any{"k": "v"}})
	if n, ok := mc.Int(0); !ok || n != 3 {
		t.Errorf("Int(0) = %d, %v", n, ok)
	}
	if s, ok := mc.String(1); !ok || s != "x" {
		t.Errorf("String(1) = %q, %v", s, ok)
	}
	if b, ok := mc.Bool(2); !ok || !b {
		t.Errorf("Bool(2) = %v, %v", b, ok)
	}
	if obj, ok := mc.Object(3); !ok || obj["k"] != "v" {
		t.Errorf("Object(3) = %v, %v", obj, ok)
	}
	if _, ok := mc.Int(9); ok {
		t.Errorf("out-of-range arg should not be ok")
	}
}

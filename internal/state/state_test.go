package state

import (
	"encoding/json"
	"testing"
)

func TestCtxCloneIsDeep(t *testing.T) {
	orig := Ctx{
		NumPlayers:    2,
		PlayOrder:     []string{"0", "1"},
		CurrentPlayer: "0",
		ActivePlayers: map[string]string{"0": "", "1": "discard"},
		ActiveMoves:   map[string]int{"0": 1},
		Gameover:      json.RawMessage(`{"winner":"0"}`),
	}
	clone := orig.Clone()

	clone.PlayOrder[0] = "9"
	clone.ActivePlayers["0"] = "changed"
	clone.ActiveMoves["0"] = 99
	clone.Gameover[2] = 'X'

	if orig.PlayOrder[0] != "0" {
		t.Errorf("clone shares PlayOrder with original")
	}
	if orig.ActivePlayers["0"] != "" {
		t.Errorf("clone shares ActivePlayers with original")
	}
	if orig.ActiveMoves["0"] != 1 {
		t.Errorf("clone shares ActiveMoves with original")
	}
	if string(orig.Gameover) != `{"winner":"0"}` {
		t.Errorf("clone shares Gameover with original")
	}
}

func TestPlayerIsActive(t *testing.T) {
	tests := []struct {
		name     string
		ctx      Ctx
		playerID string
		want     bool
	}{
		{"current player by default", Ctx{CurrentPlayer: "0"}, "0", true},
		{"other player by default", Ctx{CurrentPlayer: "0"}, "1", false},
		{"empty id never active", Ctx{CurrentPlayer: ""}, "", false},
		{"member of window", Ctx{CurrentPlayer: "0", ActivePlayers: map[string]string{"1": ""}}, "1", true},
		{"current player outside window", Ctx{CurrentPlayer: "0", ActivePlayers: map[string]string{"1": ""}}, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.PlayerIsActive(tt.playerID); got != tt.want {
				t.Fatalf("PlayerIsActive(%q) = %v, want %v", tt.playerID, got, tt.want)
			}
		})
	}
}

func TestClientViewStripsServerOnlyFields(t *testing.T) {
	s := &State{
		G:        json.RawMessage(`{"cells":[]}`),
		StateID:  7,
		Deltalog: []LogEntry{{StateID: 7}},
		Undo:     []Snapshot{{PlayerID: "0"}},
		Redo:     []Snapshot{{PlayerID: "1"}},
	}
	view := s.ClientView()
	if view.Deltalog != nil || view.Undo != nil || view.Redo != nil {
		t.Fatalf("client view retains server-only fields: %+v", view)
	}
	if view.StateID != 7 || string(view.G) != `{"cells":[]}` {
		t.Fatalf("client view lost public fields: %+v", view)
	}
	if len(s.Undo) != 1 {
		t.Fatalf("ClientView mutated the source state")
	}
}

func TestActionConstructorsAndDecodedArgs(t *testing.T) {
	a := MakeMove("clickCell", "1", 4, "x")
	if a.Type != ActionMakeMove || a.Payload.Type != "clickCell" || a.Payload.PlayerID != "1" {
		t.Fatalf("unexpected action: %+v", a)
	}
	args, err := a.DecodedArgs()
	if err != nil {
		t.Fatalf("DecodedArgs: %v", err)
	}
	if len(args) != 2 || args[0] != float64(4) || args[1] != "x" {
		t.Fatalf("unexpected args: %+v", args)
	}

	empty := Undo("0")
	args, err = empty.DecodedArgs()
	if err != nil || args != nil {
		t.Fatalf("undo args = %v, %v", args, err)
	}
}

func TestStripCredentials(t *testing.T) {
	a := MakeMove("clickCell", "0", 1)
	a.Payload.Credentials = "secret"
	stripped := a.StripCredentials()
	if stripped.Payload.Credentials != "" {
		t.Fatalf("credentials survived stripping")
	}
	if a.Payload.Credentials != "secret" {
		t.Fatalf("StripCredentials mutated the original")
	}
}

func TestRejectionError(t *testing.T) {
	rej := Rejectf(CodeStaleStateID, "got %d", 3)
	if rej.Error() != "STALE_STATE_ID: got 3" {
		t.Fatalf("unexpected error string %q", rej.Error())
	}
	bare := &Rejection{Code: CodeGameOver}
	if bare.Error() != "GAME_OVER" {
		t.Fatalf("unexpected error string %q", bare.Error())
	}
}

func TestMetadataFiltered(t *testing.T) {
	md := &Metadata{
		GameName: "tic-tac-toe",
		Players: map[int]PlayerMetadata{
			0: {ID: 0, Name: "alice", Credentials: "secret-a", IsConnected: true},
			1: {ID: 1, Name: "bob", Credentials: "secret-b"},
		},
	}
	got := md.Filtered()
	if len(got) != 2 {
		t.Fatalf("want 2 players, got %d", len(got))
	}
	if got[0].ID != 0 || got[0].Name != "alice" || !got[0].IsConnected {
		t.Fatalf("unexpected first player: %+v", got[0])
	}
	for _, p := range got {
		b, _ := json.Marshal(p)
		if string(b) == "" || containsCredentials(b) {
			t.Fatalf("filtered player leaks credentials: %s", b)
		}
	}
}

func containsCredentials(b []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	_, ok := m["credentials"]
	return ok
}

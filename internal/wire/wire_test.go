package wire

import (
	"encoding/json"
	"testing"

	"turnforge/internal/state"
)

func TestAuthStateID(t *testing.T) {
	tests := []struct {
		name   string
		env    Envelope
		want   int64
		wantOK bool
	}{
		{
			"sync response",
			Envelope{Type: MsgSyncResponse, SyncResponse: &SyncResponse{State: &state.State{StateID: 4}}},
			4, true,
		},
		{
			"update push",
			Envelope{Type: MsgUpdatePush, UpdatePush: &UpdatePush{State: &state.State{StateID: 9}}},
			9, true,
		},
		{
			"patch",
			Envelope{Type: MsgPatch, Patch: &PatchPush{PrevStateID: 2, StateID: 3}},
			3, true,
		},
		{"sync response without state", Envelope{Type: MsgSyncResponse, SyncResponse: &SyncResponse{}}, 0, false},
		{"error", Envelope{Type: MsgError, Error: &Error{Code: "X"}}, 0, false},
		{"chat push", Envelope{Type: MsgChatPush, ChatPush: &ChatMessage{ID: "1"}}, 0, false},
		{"client request", Envelope{Type: MsgUpdate, Update: &UpdateRequest{StateID: 7}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.env.AuthStateID()
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("AuthStateID() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEnvelopeOmitsUnsetPayloads(t *testing.T) {
	env := Envelope{Type: MsgSync, MatchID: "m1", Sync: &SyncRequest{PlayerID: "0"}}
	raw, err := json.Marshal(&env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != 3 {
		t.Fatalf("envelope carries unset payload fields: %s", raw)
	}

	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if back.Type != MsgSync || back.Sync == nil || back.Sync.PlayerID != "0" {
		t.Fatalf("roundtrip lost fields: %+v", back)
	}
}

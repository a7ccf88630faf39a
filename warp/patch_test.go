package warp

import "testing"

func TestPatch_Validate(t *testing.T) {
	cases := []struct {
		name    string
		patch   Patch
		wantErr bool
	}{
		{
			name:  "valid node add",
			patch: Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpNodeAdd, Node: "a"}}},
		},
		{
			name:    "wrong schema",
			patch:   Patch{Schema: 1, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpNodeAdd, Node: "a"}}},
			wantErr: true,
		},
		{
			name:    "empty writer",
			patch:   Patch{Schema: PatchSchema, Lamport: 1, Ops: []Op{{Kind: OpNodeAdd, Node: "a"}}},
			wantErr: true,
		},
		{
			name:    "empty ops",
			patch:   Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1},
			wantErr: true,
		},
		{
			name:    "node add missing node",
			patch:   Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpNodeAdd}}},
			wantErr: true,
		},
		{
			name:    "edge add missing label",
			patch:   Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpEdgeAdd, From: "a", To: "b"}}},
			wantErr: true,
		},
		{
			name:  "valid node prop set",
			patch: Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpPropSet, Node: "a", PropKey: "name", Value: []byte("x")}}},
		},
		{
			name:  "valid edge prop set",
			patch: Patch{Schema: PatchSchema, WriterID: "alice", Lamport: 1, Ops: []Op{{Kind: OpPropSet, From: "a", To: "b", Label: "knows", PropKey: "since", Value: []byte("2020")}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.patch.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

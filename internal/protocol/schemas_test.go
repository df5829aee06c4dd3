package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"starforge.io/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON round-trips v through encoding/json so the validator sees the
// wire shape.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	cases := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", protocol.HelloMsg{
			Type:            protocol.TypeHello,
			ProtocolVersion: protocol.Version,
			ClientName:      "peer-1",
		}},
		{"welcome.schema.json", protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ClientID:        42,
			Tick:            7,
			WorldParams: protocol.WorldParams{
				TickRateHz:       20,
				SpawnPoints:      8,
				SpawnPointRadius: 10,
				RollbackWindow:   16,
				Seed:             1337,
			},
		}},
		{"replicate.schema.json", protocol.ReplicateMsg{
			Type:            protocol.TypeReplicate,
			ProtocolVersion: protocol.Version,
			Tick:            3,
			From:            10,
			To:              20,
			Parents:         map[string]uint64{"5": 4},
			Added: []protocol.ComponentRecord{
				{Entity: 4, Component: "player_blueprint", Data: json.RawMessage(`{"network_id":42}`)},
			},
			Removed:   []protocol.RemovedRecord{{Entity: 9, Component: "body"}},
			Despawned: []uint64{11},
		}},
		{"input.schema.json", protocol.InputMsg{
			Type:            protocol.TypeInput,
			ProtocolVersion: protocol.Version,
			Tick:            12,
			Throttles:       map[string]float64{"6ba7b810-9dad-41d1-80b4-00c04fd430c8": 0.5},
		}},
		{"correction.schema.json", protocol.CorrectionMsg{
			Type:            protocol.TypeCorrection,
			ProtocolVersion: protocol.Version,
			FromTick:        4,
			ToTick:          6,
			ClientID:        1,
		}},
		{"ack.schema.json", protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          protocol.TypeInput,
			Accepted:        false,
			Code:            protocol.ErrStale,
			ServerTick:      40,
		}},
	}
	for _, tc := range cases {
		s := compile(t, tc.schema)
		if err := s.Validate(asJSON(t, tc.msg)); err != nil {
			t.Fatalf("%s: %v", tc.schema, err)
		}
	}
}

func TestSchemas_RejectBadInput(t *testing.T) {
	s := compile(t, "input.schema.json")
	var bad any
	_ = json.Unmarshal([]byte(`{
	  "type":"INPUT",
	  "protocol_version":"1.0",
	  "tick":1,
	  "throttles":{"not-a-block":2}
	}`), &bad)
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected invalid throttles to be rejected")
	}
}

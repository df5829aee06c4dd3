package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrWorldBusy,
		ErrBadRequest,
		ErrUnknownBlock,
		ErrRateLimit,
		ErrStale,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"INPUT","protocol_version":"1.0","tick":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != TypeInput || m.ProtocolVersion != Version {
		t.Fatalf("unexpected base: %+v", m)
	}
}

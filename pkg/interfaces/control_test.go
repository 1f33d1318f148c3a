package interfaces

import (
	"errors"
	"testing"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType ControlType
		wantErr  error
	}{
		{name: "interrupt", input: `{"type":"interrupt"}`, wantType: ControlInterrupt},
		{name: "interrupt with extra fields", input: `{"type":"interrupt","reason":"barge_in"}`, wantType: ControlInterrupt},
		{name: "unknown type", input: `{"type":"transcript","text":"hi"}`, wantType: "transcript"},
		{name: "missing type", input: `{}`, wantType: ""},
		{name: "not json", input: `hello`, wantErr: ErrUnrecognizedControl},
		{name: "json array", input: `[1,2]`, wantErr: ErrUnrecognizedControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseControl([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControl: %v", err)
			}
			if msg.ControlType() != tt.wantType {
				t.Fatalf("type = %q, want %q", msg.ControlType(), tt.wantType)
			}
		})
	}
}

func TestParseControlVariants(t *testing.T) {
	msg, _ := ParseControl([]byte(`{"type":"interrupt"}`))
	if _, ok := msg.(Interrupt); !ok {
		t.Fatalf("got %T, want Interrupt", msg)
	}

	raw := `{"type":"vad","speaking":true}`
	msg, _ = ParseControl([]byte(raw))
	u, ok := msg.(UnknownControl)
	if !ok {
		t.Fatalf("got %T, want UnknownControl", msg)
	}
	if string(u.Raw) != raw {
		t.Fatalf("Raw = %s, want %s", u.Raw, raw)
	}
}

func TestEncodeControl(t *testing.T) {
	data, err := EncodeControl(Interrupt{})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	if string(data) != `{"type":"interrupt"}` {
		t.Fatalf("data = %s", data)
	}
}

func TestConnectionStateString(t *testing.T) {
	for state, want := range map[ConnectionState]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosed:     "closed",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

package validation

import "testing"

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "simple", id: "session-1"},
		{name: "dots allowed", id: "session.1"},
		{name: "empty", id: "", wantErr: true},
		{name: "forward slash", id: "a/b", wantErr: true},
		{name: "backslash", id: `a\b`, wantErr: true},
		{name: "traversal", id: "../../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelayID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "underscores", id: "relay_1"},
		{name: "empty", id: "", wantErr: true},
		{name: "dots rejected", id: "relay.1", wantErr: true},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "traversal", id: "..", wantErr: true},
		{name: "spaces", id: "relay 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelayID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelayID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "empty falls back to machine id", id: ""},
		{name: "hex", id: "a1b2c3d4"},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "spaces", id: "my device", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

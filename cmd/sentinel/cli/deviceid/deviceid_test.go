package deviceid

import "testing"

func TestResolveOverride(t *testing.T) {
	id, err := Resolve("device-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "device-1" {
		t.Errorf("Resolve() = %q, want override", id)
	}
}

func TestResolveRejectsUnsafeOverride(t *testing.T) {
	for _, override := range []string{"../escape", "device 1", "dev/ice"} {
		if _, err := Resolve(override); err == nil {
			t.Errorf("Resolve(%q) error = nil, want validation error", override)
		}
	}
}

func TestResolveMachineID(t *testing.T) {
	id, err := Resolve("")
	if err != nil {
		t.Skipf("machine ID unavailable: %v", err)
	}
	if id == "" {
		t.Error("Resolve(\"\") = empty ID")
	}
}

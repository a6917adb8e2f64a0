package store

import "testing"

func TestPermission_Allows(t *testing.T) {
	tests := []struct {
		have     Permission
		required Permission
		want     bool
	}{
		{PermissionRead, PermissionRead, true},
		{PermissionRead, PermissionWrite, false},
		{PermissionWrite, PermissionWrite, true},
		{PermissionWrite, PermissionAdmin, false},
		{PermissionAdmin, PermissionRead, true},
		{PermissionAdmin, PermissionAdmin, true},
		{Permission("root"), PermissionRead, false},
		{Permission(""), PermissionRead, false},
	}

	for _, tt := range tests {
		if got := tt.have.Allows(tt.required); got != tt.want {
			t.Errorf("%q.Allows(%q) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestBuildStatus_Terminal(t *testing.T) {
	terminal := map[BuildStatus]bool{
		BuildStatusPending:   false,
		BuildStatusRunning:   false,
		BuildStatusFailed:    false,
		BuildStatusCompleted: true,
		BuildStatusCancelled: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestEntryStatus_Closed(t *testing.T) {
	if EntryStatusStarted.Closed() {
		t.Error("started entries must not carry an end time")
	}
	for _, s := range []EntryStatus{EntryStatusCompleted, EntryStatusFailed, EntryStatusSkipped} {
		if !s.Closed() {
			t.Errorf("%s should be closed", s)
		}
	}
	if EntryStatus("done").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestMetadata_ValueAndScan(t *testing.T) {
	m := Metadata{"disk": "40G", "layers": float64(3)}

	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var got Metadata
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got["disk"] != "40G" || got["layers"] != float64(3) {
		t.Errorf("unexpected metadata after scan: %v", got)
	}

	var empty Metadata
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil metadata, got %v", empty)
	}

	if err := empty.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}

	var nilMeta Metadata
	raw, _ := nilMeta.Value()
	if string(raw.([]byte)) != "{}" {
		t.Errorf("nil metadata should encode as {}, got %s", raw)
	}
}

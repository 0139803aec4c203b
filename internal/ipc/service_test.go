package ipc

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/visage-project/visage/internal/config"
)

func newTestService(uids map[dbus.Sender]uint32, accounts map[uint32]string) *Service {
	return &Service{
		cfg: config.Default(),
		resolveUID: func(sender dbus.Sender) (uint32, error) {
			uid, ok := uids[sender]
			if !ok {
				return 0, fmt.Errorf("unknown sender %s", sender)
			}
			return uid, nil
		},
		resolveAccount: func(uid uint32) (string, error) {
			name, ok := accounts[uid]
			if !ok {
				return "", fmt.Errorf("unknown uid %d", uid)
			}
			return name, nil
		},
	}
}

func TestRequireRootAcceptsUIDZero(t *testing.T) {
	s := newTestService(map[dbus.Sender]uint32{":1.1": 0}, nil)
	if err := s.requireRoot(":1.1"); err != nil {
		t.Fatalf("requireRoot(uid=0) = %v, want nil", err)
	}
}

func TestRequireRootRejectsNonRoot(t *testing.T) {
	s := newTestService(map[dbus.Sender]uint32{":1.2": 1000}, nil)
	if err := s.requireRoot(":1.2"); err == nil {
		t.Fatal("requireRoot(uid=1000) = nil, want an access-denied error")
	}
}

func TestRequireSelfOrRootAllowsRootForAnyUser(t *testing.T) {
	s := newTestService(map[dbus.Sender]uint32{":1.1": 0}, nil)
	if err := s.requireSelfOrRoot(":1.1", "alice"); err != nil {
		t.Fatalf("requireSelfOrRoot(root, alice) = %v, want nil", err)
	}
}

func TestRequireSelfOrRootAllowsMatchingAccount(t *testing.T) {
	s := newTestService(map[dbus.Sender]uint32{":1.2": 1000}, map[uint32]string{1000: "alice"})
	if err := s.requireSelfOrRoot(":1.2", "alice"); err != nil {
		t.Fatalf("requireSelfOrRoot(alice, alice) = %v, want nil", err)
	}
}

func TestRequireSelfOrRootRejectsCrossUserAccess(t *testing.T) {
	s := newTestService(map[dbus.Sender]uint32{":1.2": 1000}, map[uint32]string{1000: "alice"})
	if err := s.requireSelfOrRoot(":1.2", "bob"); err == nil {
		t.Fatal("requireSelfOrRoot(alice, bob) = nil, want an access-denied error (confused-deputy hole)")
	}
}

func TestStatusReportJSONFieldNames(t *testing.T) {
	report := statusReport{
		Camera:              "/dev/video2",
		ModelDir:            "/var/lib/visage/models",
		EmitterActive:       true,
		EnrolledUsers:       3,
		SimilarityThreshold: 0.4,
		AccelerationBackend: "cpu",
		KnownQuirks:         []quirkEntry{{VendorID: "04f2", ProductID: "b6d9", Name: "ASUS Zenbook 14 UM3406HA IR Camera"}},
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"camera", "camera_unsupported", "model_dir", "emitter_active", "enrolled_users", "similarity_threshold", "acceleration_backend", "known_quirks"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("statusReport JSON is missing field %q: %s", field, data)
		}
	}
}

func TestKnownQuirksReportsVendorAndProductAsHex(t *testing.T) {
	quirks := knownQuirks()
	if len(quirks) == 0 {
		t.Fatal("expected at least one known quirk entry")
	}
	if quirks[0].VendorID != "04f2" {
		t.Errorf("VendorID = %q, want %q", quirks[0].VendorID, "04f2")
	}
	if quirks[0].ProductID != "b6d9" {
		t.Errorf("ProductID = %q, want %q", quirks[0].ProductID, "b6d9")
	}
	if quirks[0].Name == "" {
		t.Error("expected a non-empty camera name")
	}
}

func TestModelEntryJSONFieldNames(t *testing.T) {
	entries := []modelEntry{{ID: "m1", Label: "front", CreatedAt: 1700000000}}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"id", "label", "created_at"} {
		if _, ok := decoded[0][field]; !ok {
			t.Errorf("modelEntry JSON is missing field %q: %s", field, data)
		}
	}
}

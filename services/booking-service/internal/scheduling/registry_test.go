package scheduling

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }

func (s stubAdapter) AvailableSlots(context.Context, SlotRequest) ([]TimeSlot, error) {
	return []TimeSlot{{Start: "09:00"}}, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(stubAdapter{name: "local"})
	reg.Register("CareStack", stubAdapter{name: "carestack"})

	for _, id := range []string{"", "local", " LOCAL "} {
		a, err := reg.Resolve(id)
		if err != nil || a.Name() != "local" {
			t.Fatalf("Resolve(%q) = %v, %v", id, a, err)
		}
	}
	if a, err := reg.Resolve("  carestack"); err != nil || a.Name() != "carestack" {
		t.Fatalf("expected carestack adapter, got %v, %v", a, err)
	}

	a, err := reg.Resolve("dentrix")
	if a != nil {
		t.Fatal("unknown identifier must not fall back to an adapter")
	}
	if !apperr.Is(err, apperr.TypeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildRegistry(t *testing.T) {
	reg, closeFn, err := BuildRegistry(stubAdapter{name: "local"}, map[string]SystemConfig{
		"acme": {Kind: "http", BaseURL: "https://pms.example"},
		"opus": {Kind: "grpc", Addr: "127.0.0.1:1", Service: "pms.v1.Availability"},
	})
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	defer closeFn()
	names := reg.Names()
	if len(names) != 3 || names[0] != "acme" || names[1] != "local" || names[2] != "opus" {
		t.Fatalf("unexpected names %v", names)
	}

	bad := []map[string]SystemConfig{
		{"acme": {Kind: "http"}},
		{"opus": {Kind: "grpc", Addr: "127.0.0.1:1"}},
		{"x": {Kind: "soap"}},
		{"local": {Kind: "http", BaseURL: "https://pms.example"}},
	}
	for _, systems := range bad {
		if _, _, err := BuildRegistry(stubAdapter{name: "local"}, systems); err == nil {
			t.Fatalf("expected error for %+v", systems)
		}
	}
}

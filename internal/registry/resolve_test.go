package registry

import (
	"errors"
	"testing"

	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/transport"
)

func intPtr(i int) *int { return &i }

func TestResolve(t *testing.T) {
	ports := []models.DeviceInfo{
		{ID: "/dev/ttyS0", Index: 0},
		{ID: "/dev/ttyUSB0", VendorID: 0x1a86, ProductID: 0x7523, Index: 1},
		{ID: "/dev/ttyUSB1", VendorID: 0x0416, ProductID: 0x5011, Index: 2},
	}
	ble := []models.DeviceInfo{
		{ID: "AA", Address: "AA:AA"},
		{ID: "BB", Address: "BB:BB"},
	}

	tests := []struct {
		name       string
		pref       models.Preference
		candidates []models.DeviceInfo
		want       string
	}{
		{"vid pid match wins over index", models.Preference{VendorID: 0x0416, ProductID: 0x5011, FallbackIndex: intPtr(0)}, ports, "/dev/ttyUSB1"},
		{"vid pid miss uses fallback index", models.Preference{VendorID: 0xffff, ProductID: 0x1, FallbackIndex: intPtr(1)}, ports, "/dev/ttyUSB0"},
		{"fallback index out of range", models.Preference{FallbackIndex: intPtr(7)}, ports, "/dev/ttyS0"},
		{"negative fallback index", models.Preference{FallbackIndex: intPtr(-1)}, ports, "/dev/ttyS0"},
		{"no preference", models.Preference{}, ports, "/dev/ttyS0"},
		{"vendor only is not an identity", models.Preference{VendorID: 0x0416}, ports, "/dev/ttyS0"},
		{"ble address match", models.Preference{Address: "bb:bb"}, ble, "BB"},
		{"ble address gone", models.Preference{Address: "CC:CC", FallbackIndex: intPtr(1)}, ble, "BB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.pref, tt.candidates)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("Resolve() = %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestResolveNoCandidates(t *testing.T) {
	_, err := Resolve(models.Preference{FallbackIndex: intPtr(0)}, nil)
	if !errors.Is(err, transport.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
}

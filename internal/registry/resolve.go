package registry

import (
	"strings"

	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/transport"
)

// Resolve picks the device to use for pref among candidates:
// a hardware identity match first (USB vendor/product id, or BLE address),
// then the stored fallback index if still in range, then the first
// candidate.
func Resolve(pref models.Preference, candidates []models.DeviceInfo) (models.DeviceInfo, error) {
	if len(candidates) == 0 {
		return models.DeviceInfo{}, transport.ErrNoCandidates
	}

	if pref.VendorID != 0 && pref.ProductID != 0 {
		for _, c := range candidates {
			if c.VendorID == pref.VendorID && c.ProductID == pref.ProductID {
				return c, nil
			}
		}
	}
	if pref.Address != "" {
		for _, c := range candidates {
			if strings.EqualFold(c.Address, pref.Address) {
				return c, nil
			}
		}
	}

	if idx := pref.FallbackIndex; idx != nil && *idx >= 0 && *idx < len(candidates) {
		return candidates[*idx], nil
	}

	return candidates[0], nil
}

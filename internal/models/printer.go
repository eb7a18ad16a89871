package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the logical printer slot a device is bound to
type Role string

const (
	RoleOrders  Role = "orders"
	RoleKitchen Role = "kitchen"
)

// Roles lists every printer role the agent manages.
var Roles = []Role{RoleOrders, RoleKitchen}

// ParseRole validates a role name coming from the API or config.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOrders, RoleKitchen:
		return r, nil
	default:
		return "", fmt.Errorf("unknown printer role %q", s)
	}
}

// BackendKind identifies a transport implementation
type BackendKind string

const (
	BackendBLE     BackendKind = "ble"
	BackendSerial  BackendKind = "serial"
	BackendBrowser BackendKind = "browser"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (BackendKind, error) {
	switch b := BackendKind(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendBLE, BackendSerial, BackendBrowser:
		return b, nil
	default:
		return "", fmt.Errorf("unknown printer backend %q", s)
	}
}

// Physical reports whether the backend talks to a real device.
func (b BackendKind) Physical() bool {
	return b == BackendBLE || b == BackendSerial
}

// DeviceInfo describes a printer a backend can reach. ID is the serial port
// name or the BLE address. Index is the position in the backend's
// authorised-device list at enumeration time.
type DeviceInfo struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Backend   BackendKind `json:"backend"`
	VendorID  uint16      `json:"vendorId,omitempty"`
	ProductID uint16      `json:"productId,omitempty"`
	Address   string      `json:"address,omitempty"`
	Index     int         `json:"index"`
}

// Preference is the persisted device choice for a role
type Preference struct {
	Role          Role        `json:"role"`
	Backend       BackendKind `json:"backend"`
	VendorID      uint16      `json:"vendorId,omitempty"`
	ProductID     uint16      `json:"productId,omitempty"`
	Address       string      `json:"address,omitempty"`
	FallbackIndex *int        `json:"fallbackIndex,omitempty"`
	AutoConnect   bool        `json:"autoConnect"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// PreferenceFor builds the preference recorded after a device is selected.
func PreferenceFor(role Role, dev DeviceInfo) Preference {
	idx := dev.Index
	return Preference{
		Role:          role,
		Backend:       dev.Backend,
		VendorID:      dev.VendorID,
		ProductID:     dev.ProductID,
		Address:       dev.Address,
		FallbackIndex: &idx,
		AutoConnect:   true,
	}
}

// ConnectionState is the externally visible status of one role
type ConnectionState struct {
	Role         Role        `json:"role"`
	Backend      BackendKind `json:"backend"`
	IsConnected  bool        `json:"isConnected"`
	IsConnecting bool        `json:"isConnecting"`
	Device       *DeviceInfo `json:"device,omitempty"`
	AutoConnect  bool        `json:"autoConnect"`
	AutoPrint    bool        `json:"autoPrint"`
	LastError    string      `json:"lastError,omitempty"`
}

// PrintResult is the audit record of one print attempt
type PrintResult struct {
	JobID    string      `json:"jobId"`
	OrderID  string      `json:"orderId,omitempty"`
	Role     Role        `json:"role"`
	Backend  BackendKind `json:"backend"`
	Fallback bool        `json:"fallback"`
	Error    string      `json:"error,omitempty"`
	At       time.Time   `json:"at"`
}

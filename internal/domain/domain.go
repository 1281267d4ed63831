// Package domain provides core domain models and interfaces for the go-mediola application
package domain

import (
	"context"
	"time"
)

// Device type codes used by the Mediola gateway.
const (
	DeviceTypeWIR   = "WR" // WIR shutters, report and accept positions
	DeviceTypeElero = "ER" // Elero shutters, report state codes only
)

// ManufacturerName maps a gateway device-type code to a display name.
func ManufacturerName(deviceType string) string {
	switch deviceType {
	case DeviceTypeWIR:
		return "WIR"
	case DeviceTypeElero:
		return "Elero"
	default:
		return "Unknown"
	}
}

// MovementState describes the current motion of a shutter.
type MovementState string

const (
	MovementIdle    MovementState = "idle"
	MovementOpening MovementState = "opening"
	MovementClosing MovementState = "closing"
)

// Action is a high-level command requested against a shutter.
type Action string

const (
	ActionOpen        Action = "open"
	ActionClose       Action = "close"
	ActionStop        Action = "stop"
	ActionSetPosition Action = "set_position"
)

// ShutterDevice is the normalized model of one shutter known to the gateway.
// Position uses the host convention: 0 = fully closed, 100 = fully open.
type ShutterDevice struct {
	ID           string        `json:"id"`
	Address      string        `json:"address"`
	DeviceType   string        `json:"device_type"`
	Manufacturer string        `json:"manufacturer"`
	Position     int           `json:"position"`
	Movement     MovementState `json:"movement"`
	LastSeen     time.Time     `json:"last_seen"`
}

// IsClosed reports whether the shutter is fully closed.
func (d ShutterDevice) IsClosed() bool {
	return d.Position == 0
}

// SupportsPosition reports whether the device accepts set-position
// commands. Only WIR shutters do.
func (d ShutterDevice) SupportsPosition() bool {
	return d.DeviceType == DeviceTypeWIR
}

// RawState is one per-device record from a GetStates response.
type RawState struct {
	Type    string `json:"type"`
	SID     string `json:"sid"`
	Address string `json:"adr"`
	State   string `json:"state"`
}

// StateSource fetches the current device states from a gateway.
type StateSource interface {
	// FetchStates retrieves one raw state record per relevant device
	FetchStates(ctx context.Context) ([]RawState, error)
}

// CommandSink dispatches an encoded command to a gateway.
type CommandSink interface {
	// SendCommand transmits the hex command payload for the given device type
	SendCommand(ctx context.Context, deviceType, payload string) error
}

// DeviceAnnouncer publishes discovery metadata for a set of devices.
type DeviceAnnouncer interface {
	// Announce advertises the given devices to downstream consumers
	Announce(ctx context.Context, devices []ShutterDevice) error
}

// MessagePublisher defines the interface for publishing device state.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// Package domain provides core domain implementations.
package domain

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDeviceNotFound is returned when a device identifier is not in the registry.
var ErrDeviceNotFound = errors.New("device not found")

// DecodedState is the normalized result of decoding one raw state record.
type DecodedState struct {
	Position int
	Movement MovementState
}

// StateDecoder turns a raw gateway record into a normalized state.
// Implementations return an error for records that should be skipped.
type StateDecoder interface {
	DecodeState(raw RawState) (DecodedState, error)
}

// ShutterRegistry keeps the last-known state of every discovered shutter.
// All mutation goes through Discover, ApplyPoll or ApplyOptimisticCommand
// under the write lock, so readers never observe a half-updated device.
type ShutterRegistry struct {
	devices map[string]*ShutterDevice
	decoder StateDecoder
	mutex   sync.RWMutex
	logger  zerolog.Logger
}

// NewShutterRegistry creates a new shutter registry.
func NewShutterRegistry(decoder StateDecoder, logger zerolog.Logger) *ShutterRegistry {
	return &ShutterRegistry{
		devices: make(map[string]*ShutterDevice),
		decoder: decoder,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Discover adds or updates devices from a raw poll response. Devices already
// known are refreshed in place; devices absent from the response are kept
// with their last-known state. Returns the number of devices added.
func (r *ShutterRegistry) Discover(entries []RawState) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	added := 0
	for _, entry := range entries {
		state, err := r.decoder.DecodeState(entry)
		if err != nil {
			r.logger.Debug().
				Str("sid", entry.SID).
				Str("state", entry.State).
				Err(err).
				Msg("Skipping undecodable state entry")
			continue
		}

		device, exists := r.devices[entry.SID]
		if !exists {
			device = &ShutterDevice{
				ID:           entry.SID,
				Address:      entry.Address,
				DeviceType:   entry.Type,
				Manufacturer: ManufacturerName(entry.Type),
			}
			r.devices[entry.SID] = device
			added++
			r.logger.Info().
				Str("sid", entry.SID).
				Str("address", entry.Address).
				Str("type", entry.Type).
				Msg("Discovered shutter")
		}

		device.Position = state.Position
		device.Movement = state.Movement
		device.LastSeen = time.Now()
	}

	return added
}

// ApplyPoll updates the state of already-known devices from a raw poll
// response. Identifiers not seen during discovery are ignored. Returns the
// number of devices updated.
func (r *ShutterRegistry) ApplyPoll(entries []RawState) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	updated := 0
	for _, entry := range entries {
		device, exists := r.devices[entry.SID]
		if !exists {
			r.logger.Debug().
				Str("sid", entry.SID).
				Msg("Ignoring state for unknown device")
			continue
		}

		state, err := r.decoder.DecodeState(entry)
		if err != nil {
			r.logger.Debug().
				Str("sid", entry.SID).
				Str("state", entry.State).
				Err(err).
				Msg("Skipping undecodable state entry")
			continue
		}

		device.Position = state.Position
		device.Movement = state.Movement
		device.LastSeen = time.Now()
		updated++
	}

	return updated
}

// ApplyOptimisticCommand reflects a just-dispatched command in the cache
// before the next poll confirms it.
func (r *ShutterRegistry) ApplyOptimisticCommand(id string, action Action, position int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	device, exists := r.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}

	switch action {
	case ActionOpen:
		device.Movement = MovementOpening
	case ActionClose:
		device.Movement = MovementClosing
	case ActionStop:
		device.Movement = MovementIdle
	case ActionSetPosition:
		switch {
		case position > device.Position:
			device.Movement = MovementOpening
		case position < device.Position:
			device.Movement = MovementClosing
		default:
			device.Movement = MovementIdle
		}
		device.Position = position
	}

	return nil
}

// Get returns a snapshot of one device.
func (r *ShutterRegistry) Get(id string) (ShutterDevice, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	device, exists := r.devices[id]
	if !exists {
		return ShutterDevice{}, false
	}

	return *device, true
}

// All returns snapshots of every known device, ordered by identifier.
func (r *ShutterRegistry) All() []ShutterDevice {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	devices := make([]ShutterDevice, 0, len(r.devices))
	for _, device := range r.devices {
		devices = append(devices, *device)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return devices
}

// Count returns the number of known devices.
func (r *ShutterRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.devices)
}

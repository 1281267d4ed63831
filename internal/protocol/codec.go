// Package protocol provides command encoding and state decoding for Mediola gateway communication.
package protocol

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/resident-x/go-mediola/internal/domain"
)

// ErrInvalidCommand indicates a caller error: unknown action, out-of-range
// position or a device that does not support the requested action.
var ErrInvalidCommand = errors.New("invalid command")

// ErrSkipEntry indicates a state record that cannot be decoded. The entry
// is dropped; the rest of the poll response is still processed.
var ErrSkipEntry = errors.New("unrecognized state entry")

// WIR command structure: function code + device address + action suffix.
const (
	wirFunctionCode      = "01"
	wirSuffixOpen        = "010101"
	wirSuffixClose       = "010102"
	wirSuffixStop        = "010103"
	wirSetPositionPrefix = "0107"
)

// Elero command codes, appended to the two-digit shutter ID.
const (
	eleroCmdUp   = "08"
	eleroCmdDown = "09"
	eleroCmdStop = "02"
)

// Elero state codes as reported in GetStates.
const (
	eleroStateOpen         = "1001"
	eleroStateClosed       = "1002"
	eleroStateIntermediate = "100D"
	eleroStateMovingUp     = "100A"
	eleroStateMovingDown   = "100B"
)

// HostToGateway converts a host-scale position (0=closed) to the gateway
// scale (0=open).
func HostToGateway(position int) int {
	return 100 - position
}

// GatewayToHost converts a gateway-scale position (0=open) to the host
// scale (0=closed).
func GatewayToHost(position int) int {
	return 100 - position
}

// clampPosition bounds a position to [0,100].
func clampPosition(position int) int {
	if position < 0 {
		return 0
	}
	if position > 100 {
		return 100
	}
	return position
}

// Codec encodes shutter commands into the gateway's hex strings and
// decodes raw state records into normalized positions. It is stateless
// and safe for concurrent use.
type Codec struct{}

// NewCodec creates a new command codec.
func NewCodec() *Codec {
	return &Codec{}
}

// EncodeCommand builds the hex command payload for one action against one
// device. For set-position the position must already be on the gateway
// scale (0=open, 100=closed).
func (c *Codec) EncodeCommand(device domain.ShutterDevice, action domain.Action, gatewayPosition int) (string, error) {
	switch device.DeviceType {
	case domain.DeviceTypeWIR:
		return c.encodeWIR(device.Address, action, gatewayPosition)
	case domain.DeviceTypeElero:
		return c.encodeElero(device.ID, action)
	default:
		return "", fmt.Errorf("%w: unsupported device type %q", ErrInvalidCommand, device.DeviceType)
	}
}

// encodeWIR builds a WIR command: 01 + address + action suffix, with
// set-position carrying the position as one hex byte.
func (c *Codec) encodeWIR(address string, action domain.Action, gatewayPosition int) (string, error) {
	if address == "" {
		return "", fmt.Errorf("%w: empty device address", ErrInvalidCommand)
	}

	switch action {
	case domain.ActionOpen:
		return wirFunctionCode + address + wirSuffixOpen, nil
	case domain.ActionClose:
		return wirFunctionCode + address + wirSuffixClose, nil
	case domain.ActionStop:
		return wirFunctionCode + address + wirSuffixStop, nil
	case domain.ActionSetPosition:
		if gatewayPosition < 0 || gatewayPosition > 100 {
			return "", fmt.Errorf("%w: position %d out of range", ErrInvalidCommand, gatewayPosition)
		}
		return fmt.Sprintf("%s%s%s%02X", wirFunctionCode, address, wirSetPositionPrefix, gatewayPosition), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, action)
	}
}

// encodeElero builds an Elero command: two-digit shutter ID + command code.
// Elero shutters cannot move to an arbitrary position.
func (c *Codec) encodeElero(sid string, action domain.Action) (string, error) {
	if sid == "" {
		return "", fmt.Errorf("%w: empty shutter ID", ErrInvalidCommand)
	}

	switch action {
	case domain.ActionOpen:
		return sid + eleroCmdUp, nil
	case domain.ActionClose:
		return sid + eleroCmdDown, nil
	case domain.ActionStop:
		return sid + eleroCmdStop, nil
	case domain.ActionSetPosition:
		return "", fmt.Errorf("%w: elero shutters do not support set-position", ErrInvalidCommand)
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, action)
	}
}

// DecodeState turns one raw gateway record into a host-scale position and
// movement hint. It implements domain.StateDecoder.
func (c *Codec) DecodeState(raw domain.RawState) (domain.DecodedState, error) {
	switch raw.Type {
	case domain.DeviceTypeWIR:
		return c.decodeWIR(raw.State)
	case domain.DeviceTypeElero:
		return c.decodeElero(raw.State)
	default:
		return domain.DecodedState{}, fmt.Errorf("%w: device type %q", ErrSkipEntry, raw.Type)
	}
}

// decodeWIR parses a WIR state string "XXYYZZ": the second byte carries
// the gateway-scale position. WIR shutters never report movement.
func (c *Codec) decodeWIR(state string) (domain.DecodedState, error) {
	if len(state) < 6 {
		return domain.DecodedState{}, fmt.Errorf("%w: state %q too short", ErrSkipEntry, state)
	}

	gatewayPosition, err := strconv.ParseInt(state[2:4], 16, 32)
	if err != nil {
		return domain.DecodedState{}, fmt.Errorf("%w: state %q: %v", ErrSkipEntry, state, err)
	}

	return domain.DecodedState{
		Position: GatewayToHost(clampPosition(int(gatewayPosition))),
		Movement: domain.MovementIdle,
	}, nil
}

// decodeElero maps the discrete Elero state codes onto positions and
// movement hints. Intermediate and moving states report mid-travel.
func (c *Codec) decodeElero(state string) (domain.DecodedState, error) {
	switch state {
	case eleroStateOpen:
		return domain.DecodedState{Position: 100, Movement: domain.MovementIdle}, nil
	case eleroStateClosed:
		return domain.DecodedState{Position: 0, Movement: domain.MovementIdle}, nil
	case eleroStateIntermediate:
		return domain.DecodedState{Position: 50, Movement: domain.MovementIdle}, nil
	case eleroStateMovingUp:
		return domain.DecodedState{Position: 50, Movement: domain.MovementOpening}, nil
	case eleroStateMovingDown:
		return domain.DecodedState{Position: 50, Movement: domain.MovementClosing}, nil
	default:
		return domain.DecodedState{}, fmt.Errorf("%w: elero state %q", ErrSkipEntry, state)
	}
}

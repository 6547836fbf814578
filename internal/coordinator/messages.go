package coordinator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Event and message type tags carried in the "type" field.
const (
	TypeHeartbeat          = "heartbeat"
	TypeStatusUpdate       = "statusUpdate"
	TypeHeatCycleCompleted = "heatCycleCompleted"
	TypeStashUpdated       = "stashUpdated"
	TypeSessionData        = "sessionData"
	TypeHeatCycleCreated   = "heatCycleCreated"
	TypeAck                = "ack"
	TypeError              = "error"
)

// Ack failure reasons.
const (
	ReasonDuplicate = "duplicate"
	ReasonDBError   = "db_error"
	ReasonInvalid   = "invalid"
)

// historyField is stripped from sessionData sent to device-role subscribers.
const historyField = "heat_cycles"

// ErrInvalidMessage is matched by every parse failure.
var ErrInvalidMessage = errors.New("invalid message")

// ParseError describes a rejected live-connection message. Type is the
// message's type tag when one could be read.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid message: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s message: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrInvalidMessage }

// Message is one of Heartbeat, StatusUpdate, HeatCycleCompleted or StashUpdated.
type Message interface {
	MessageType() string
}

type Heartbeat struct{}

type StatusUpdate struct {
	Patch StatusPatch
}

type HeatCycleCompleted struct {
	Duration float64
	Cycle    int
}

// StashUpdated is relayed verbatim.
type StashUpdated struct {
	Raw json.RawMessage
}

func (Heartbeat) MessageType() string          { return TypeHeartbeat }
func (StatusUpdate) MessageType() string       { return TypeStatusUpdate }
func (HeatCycleCompleted) MessageType() string { return TypeHeatCycleCompleted }
func (StashUpdated) MessageType() string       { return TypeStashUpdated }

// StatusPatch holds the optional fields of a status update. Nil means absent.
type StatusPatch struct {
	IsOn      *bool `json:"isOn,omitempty"`
	IsHeating *bool `json:"isHeating,omitempty"`
}

// Empty reports whether the patch carries no field.
func (p StatusPatch) Empty() bool { return p.IsOn == nil && p.IsHeating == nil }

// ParseMessage decodes one frame from a live connection.
func ParseMessage(data []byte) (Message, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, &ParseError{Err: errors.New("missing type")}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, &ParseError{Err: errors.New("type must be a string")}
	}

	switch typ {
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeStatusUpdate:
		return StatusUpdate{Patch: patchFromFields(fields)}, nil
	case TypeHeatCycleCompleted:
		m, err := heatCycleFromFields(fields)
		if err != nil {
			return nil, &ParseError{Type: typ, Err: err}
		}
		return m, nil
	case TypeStashUpdated:
		return StashUpdated{Raw: compact(data)}, nil
	default:
		return nil, &ParseError{Type: typ, Err: errors.New("unknown message type")}
	}
}

// ParseStatusPatch decodes an {isOn?, isHeating?} object. Fields that are not
// booleans are dropped one by one; only a non-object body is an error.
func ParseStatusPatch(data []byte) (StatusPatch, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return StatusPatch{}, &ParseError{Type: TypeStatusUpdate, Err: err}
	}
	return patchFromFields(fields), nil
}

// EventType returns the "type" tag of a JSON object, or "" if it has none.
// It fails only when data is not a JSON object.
func EventType(data []byte) (string, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return "", &ParseError{Err: err}
	}
	var typ string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	return typ, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if fields == nil {
		return nil, errors.New("expected a json object")
	}
	return fields, nil
}

func patchFromFields(fields map[string]json.RawMessage) StatusPatch {
	var p StatusPatch
	p.IsOn = boolField(fields, "isOn")
	p.IsHeating = boolField(fields, "isHeating")
	return p
}

func boolField(fields map[string]json.RawMessage, name string) *bool {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	var v *bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func heatCycleFromFields(fields map[string]json.RawMessage) (HeatCycleCompleted, error) {
	m := HeatCycleCompleted{Cycle: 1}

	raw, ok := fields["duration"]
	if !ok {
		return m, errors.New("duration is required")
	}
	var d *float64
	if err := json.Unmarshal(raw, &d); err != nil || d == nil {
		return m, errors.New("duration must be a number")
	}
	m.Duration = *d

	if raw, ok := fields["cycle"]; ok && !isNull(raw) {
		var c float64
		if err := json.Unmarshal(raw, &c); err != nil {
			return m, errors.New("cycle must be a number")
		}
		if c != math.Trunc(c) || c > math.MaxInt32 || c < math.MinInt32 {
			return m, fmt.Errorf("cycle must be an integer, got %v", c)
		}
		m.Cycle = int(c)
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func compact(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return buf.Bytes()
}

// stripField re-serializes a JSON object without field.
func stripField(raw []byte, field string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields[field]; !ok {
		return raw, nil
	}
	delete(fields, field)
	return json.Marshal(fields)
}

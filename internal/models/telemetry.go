package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FrameTypeHeartbeat marks keep-alive frames that carry no robot state.
const FrameTypeHeartbeat = "heartbeat"

// TelemetryFrame is one robot state update received from the fleet feed.
type TelemetryFrame struct {
	Type           string         `json:"type,omitempty"`
	DeviceID       string         `json:"deviceId"`
	Name           string         `json:"name"`
	DevicePosition DevicePosition `json:"devicePosition"`
	Angle          *float64       `json:"angle,omitempty"`
	Battery        *float64       `json:"battery,omitempty"`
	Speed          *float64       `json:"speed,omitempty"`
	Payload        any            `json:"payload,omitempty"`
}

// DevicePosition is either a pre-resolved {x,y} pair or a raw textual
// identifier that has to be matched against the topology.
type DevicePosition struct {
	Raw string
	X   OptionalFloat
	Y   OptionalFloat
}

// HasPoint reports whether the position carries usable coordinates.
func (p DevicePosition) HasPoint() bool {
	return p.X.Valid && p.Y.Valid
}

// UnmarshalJSON accepts a string, a number, or an object with x/y fields.
func (p *DevicePosition) UnmarshalJSON(data []byte) error {
	*p = DevicePosition{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &p.Raw)
	case '{':
		var obj struct {
			X OptionalFloat `json:"x"`
			Y OptionalFloat `json:"y"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("decoding device position: %w", err)
		}
		p.X, p.Y = obj.X, obj.Y
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decoding device position: %w", err)
		}
		p.Raw = n.String()
		return nil
	}
}

// MarshalJSON encodes resolved positions as an object and raw ones as a string.
func (p DevicePosition) MarshalJSON() ([]byte, error) {
	if p.HasPoint() {
		return json.Marshal(map[string]float64{"x": p.X.Value, "y": p.Y.Value})
	}
	if p.Raw == "" {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(p.Raw)), nil
}

// RobotMarker is a robot whose position was resolved for the current render pass.
type RobotMarker struct {
	DeviceID string   `json:"deviceId" msgpack:"deviceId"`
	Name     string   `json:"name" msgpack:"name"`
	X        float64  `json:"x" msgpack:"x"`
	Y        float64  `json:"y" msgpack:"y"`
	Angle    *float64 `json:"angle,omitempty" msgpack:"angle,omitempty"`
	Battery  *float64 `json:"battery,omitempty" msgpack:"battery,omitempty"`
	Speed    *float64 `json:"speed,omitempty" msgpack:"speed,omitempty"`
}

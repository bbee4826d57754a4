// Package telemetry ingests the live robot feed: it decodes frames, resolves
// reported positions against the topology, and keeps one resilient WebSocket
// connection to the fleet data source.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warehouse-map/backend/internal/models"
)

// ErrDecode is returned for frames that cannot be decoded.
var ErrDecode = errors.New("telemetry frame decode failed")

// Message is one decoded inbound payload.
type Message struct {
	Heartbeat bool

	// Single is set for a lone robot object; such a frame updates one robot
	// instead of replacing the whole fleet.
	Single bool
	Frames []models.TelemetryFrame
}

// Decode accepts a single robot object, an array of them, or a
// {"data": [...]} wrapper. Heartbeat frames decode to Message{Heartbeat: true}.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrDecode)
	}

	switch data[0] {
	case '[':
		frames, err := decodeArray(data)
		if err != nil {
			return Message{}, err
		}
		return Message{Frames: frames}, nil

	case '{':
		var head struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if head.Type == models.FrameTypeHeartbeat {
			return Message{Heartbeat: true}, nil
		}
		if d := bytes.TrimSpace(head.Data); len(d) > 0 && d[0] == '[' {
			frames, err := decodeArray(d)
			if err != nil {
				return Message{}, err
			}
			return Message{Frames: frames}, nil
		}

		var f models.TelemetryFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return Message{Single: true, Frames: []models.TelemetryFrame{f}}, nil

	default:
		return Message{}, fmt.Errorf("%w: expected object or array", ErrDecode)
	}
}

// decodeArray decodes a list of frames, dropping heartbeats mixed into it.
func decodeArray(data []byte) ([]models.TelemetryFrame, error) {
	var raw []models.TelemetryFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	frames := make([]models.TelemetryFrame, 0, len(raw))
	for _, f := range raw {
		if f.Type == models.FrameTypeHeartbeat {
			continue
		}
		frames = append(frames, f)
	}
	return frames, nil
}

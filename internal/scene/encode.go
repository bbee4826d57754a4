package scene

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is a snapshot wire encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatMsgpack {
		return "application/x-msgpack"
	}
	return "application/json"
}

// Encode serializes a snapshot or change in the given format.
func Encode(v any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(v)
	case FormatMsgpack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported scene format %q", format)
	}
}

// DecodeSnapshot is the inverse of Encode for snapshots.
func DecodeSnapshot(data []byte, format Format) (Snapshot, error) {
	var snap Snapshot
	var err error
	switch format {
	case FormatJSON, "":
		err = json.Unmarshal(data, &snap)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &snap)
	default:
		err = fmt.Errorf("unsupported scene format %q", format)
	}
	return snap, err
}

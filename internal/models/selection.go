package models

// SelectionKind names the kind of entity a pointer click selected.
type SelectionKind string

const (
	SelectionNode   SelectionKind = "node"
	SelectionCamera SelectionKind = "camera"
)

// SelectionEvent is surfaced to the surrounding application when a node or
// camera marker is clicked.
type SelectionEvent struct {
	Kind     SelectionKind `json:"kind" msgpack:"kind"`
	Key      string        `json:"key" msgpack:"key"`
	CameraID int           `json:"cameraId,omitempty" msgpack:"cameraId,omitempty"`
	Name     string        `json:"name" msgpack:"name"`
	Type     NodeType      `json:"type" msgpack:"type"`
	Locked   bool          `json:"locked" msgpack:"locked"`
	Open     bool          `json:"open" msgpack:"open"`
	X        float64       `json:"x" msgpack:"x"`
	Y        float64       `json:"y" msgpack:"y"`
}

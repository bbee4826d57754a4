// Package models contains domain types for the warehouse map backend.
package models

// NodeType classifies a point of interest on the facility floor.
type NodeType string

const (
	NodeTypeNormal  NodeType = "normal"
	NodeTypeCamera  NodeType = "camera"
	NodeTypeCharge  NodeType = "charge"
	NodeTypeSpecial NodeType = "special"
)

// Topology is the static facility layout supplied once per session.
// It is replaced wholesale when a new snapshot is imported.
type Topology struct {
	Width   float64      `json:"width"`
	Height  float64      `json:"height"`
	NodeArr []Node       `json:"nodeArr"`
	LineArr []Connection `json:"lineArr"`
}

// Node is a named point of interest (waypoint, camera, charge station or special marker).
// Key is unique within one snapshot.
type Node struct {
	Key    string        `json:"key"`
	Name   string        `json:"name"`
	X      OptionalFloat `json:"x"`
	Y      OptionalFloat `json:"y"`
	Type   NodeType      `json:"type,omitempty"`
	Locked bool          `json:"locked,omitempty"`
	Open   bool          `json:"open,omitempty"`
}

// HasCoordinates reports whether both coordinates are present and finite.
func (n Node) HasCoordinates() bool {
	return n.X.Valid && n.Y.Valid
}

// Connection is a directed travel path between two nodes.
// Path, when present, lists intermediate control points from start to end.
type Connection struct {
	StartNodeKey string       `json:"startNodeKey"`
	EndNodeKey   string       `json:"endNodeKey"`
	Path         [][2]float64 `json:"path,omitempty"`
}

package models

import "time"

// ViewerSession describes one live map session held by the server.
type ViewerSession struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	TelemetryURL string    `json:"telemetryUrl,omitempty"`
	TopologyID   string    `json:"topologyId,omitempty"`
}

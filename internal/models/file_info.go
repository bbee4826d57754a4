package models

import "time"

// FileInfo represents metadata about an imported topology snapshot.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Status      string    `json:"status"` // "imported"
	Nodes       int       `json:"nodes"`
	Connections int       `json:"connections"`
}

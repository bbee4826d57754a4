package topology

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/warehouse-map/backend/internal/models"
)

// ErrInvalidSnapshot is returned when a topology document cannot be decoded.
var ErrInvalidSnapshot = errors.New("invalid topology snapshot")

// ParseSnapshotFile parses a topology snapshot JSON file.
func ParseSnapshotFile(filePath string) (*models.Topology, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseSnapshot(file)
}

// ParseSnapshot decodes a { width, height, nodeArr, lineArr } document.
// Individual malformed nodes or connections are kept; they are skipped at
// render time so one bad entry never rejects the whole import.
func ParseSnapshot(r io.Reader) (*models.Topology, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseSnapshotBytes(data)
}

// ParseSnapshotBytes is ParseSnapshot for an in-memory document.
func ParseSnapshotBytes(data []byte) (*models.Topology, error) {
	var raw struct {
		Width   models.OptionalFloat `json:"width"`
		Height  models.OptionalFloat `json:"height"`
		NodeArr []models.Node        `json:"nodeArr"`
		LineArr []models.Connection  `json:"lineArr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if raw.NodeArr == nil && raw.LineArr == nil && !raw.Width.Valid && !raw.Height.Valid {
		return nil, fmt.Errorf("%w: document has no topology fields", ErrInvalidSnapshot)
	}

	topo := &models.Topology{
		Width:   raw.Width.Value,
		Height:  raw.Height.Value,
		NodeArr: raw.NodeArr,
		LineArr: raw.LineArr,
	}
	if topo.NodeArr == nil {
		topo.NodeArr = []models.Node{}
	}
	if topo.LineArr == nil {
		topo.LineArr = []models.Connection{}
	}
	for i := range topo.NodeArr {
		if topo.NodeArr[i].Type == "" {
			topo.NodeArr[i].Type = models.NodeTypeNormal
		}
	}
	return topo, nil
}

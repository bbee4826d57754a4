package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CameraState is the online flag reported for one camera.
type CameraState struct {
	Online bool `json:"online"`
}

// CameraStatus pairs a camera id with its state.
type CameraStatus struct {
	CameraID int  `json:"cameraId"`
	Online   bool `json:"online"`
}

// CameraStatusMap is the collaborator wire format: { "<cameraId>": { "online": bool } }.
type CameraStatusMap map[int]CameraState

// UnmarshalJSON decodes string object keys into numeric camera ids.
func (m *CameraStatusMap) UnmarshalJSON(data []byte) error {
	var raw map[string]CameraState
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(CameraStatusMap, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("camera id %q is not numeric", k)
		}
		out[id] = v
	}
	*m = out
	return nil
}

// Online reports the state for a camera id; unknown cameras count as offline.
func (m CameraStatusMap) Online(cameraID int) bool {
	return m[cameraID].Online
}

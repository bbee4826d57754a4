package topology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/warehouse-map/backend/internal/models"
)

const sampleSnapshot = `{
  "width": 200,
  "height": 100,
  "nodeArr": [
    {"key": "cell-5", "name": "Cell 5", "x": 10, "y": 20, "type": "normal"},
    {"key": "7", "name": "Camera7", "x": "30", "y": "40"},
    {"key": "charge-1", "name": "Dock", "x": 50, "y": 60, "type": "charge"},
    {"key": "broken", "name": "Broken", "x": null, "y": "abc"}
  ],
  "lineArr": [
    {"startNodeKey": "cell-5", "endNodeKey": "7"},
    {"startNodeKey": "7", "endNodeKey": "charge-1", "path": [[30,40],[40,50],[50,60]]}
  ]
}`

func TestParseSnapshot(t *testing.T) {
	topo, err := ParseSnapshot(strings.NewReader(sampleSnapshot))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}

	if topo.Width != 200 || topo.Height != 100 {
		t.Errorf("unexpected size %vx%v", topo.Width, topo.Height)
	}
	if len(topo.NodeArr) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(topo.NodeArr))
	}
	if len(topo.LineArr) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(topo.LineArr))
	}

	cam := topo.NodeArr[1]
	if !cam.HasCoordinates() || cam.X.Value != 30 || cam.Y.Value != 40 {
		t.Errorf("numeric string coordinates not decoded: %+v", cam)
	}
	if cam.Type != models.NodeTypeNormal {
		t.Errorf("missing type should default to normal, got %q", cam.Type)
	}
	if topo.NodeArr[3].HasCoordinates() {
		t.Error("broken node should have no coordinates")
	}
	if got := len(topo.LineArr[1].Path); got != 3 {
		t.Errorf("expected 3 control points, got %d", got)
	}
}

func TestParseSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "<map/>"},
		{"empty object", "{}"},
		{"wrong node type", `{"nodeArr": "nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSnapshot(strings.NewReader(tt.input)); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestParseSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.json")
	if err := os.WriteFile(path, []byte(sampleSnapshot), 0644); err != nil {
		t.Fatal(err)
	}

	topo, err := ParseSnapshotFile(path)
	if err != nil {
		t.Fatalf("ParseSnapshotFile failed: %v", err)
	}
	if len(topo.NodeArr) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(topo.NodeArr))
	}

	if _, err := ParseSnapshotFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func loadSample(t *testing.T) *Store {
	t.Helper()
	topo, err := ParseSnapshot(strings.NewReader(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore()
	s.Load(topo)
	return s
}

func TestStore_Lookup(t *testing.T) {
	s := loadSample(t)

	if s.Version() != 1 {
		t.Errorf("expected version 1, got %d", s.Version())
	}
	n, ok := s.Node("charge-1")
	if !ok || n.Name != "Dock" {
		t.Errorf("Node(charge-1) = %+v, %v", n, ok)
	}
	if _, ok := s.Node("nope"); ok {
		t.Error("unexpected node for unknown key")
	}
	w, h := s.Size()
	if w != 200 || h != 100 {
		t.Errorf("Size() = %v, %v", w, h)
	}

	s.Load(&models.Topology{})
	if s.Version() != 2 {
		t.Errorf("expected version 2 after reload, got %d", s.Version())
	}
	if len(s.Nodes()) != 0 {
		t.Error("reload should replace nodes wholesale")
	}
	if _, ok := s.Node("charge-1"); ok {
		t.Error("stale key survived reload")
	}
}

func TestStore_FindByNumber(t *testing.T) {
	s := loadSample(t)

	tests := []struct {
		num     int
		wantKey string
		wantOK  bool
	}{
		{5, "cell-5", true},
		{7, "7", true},
		{1, "charge-1", true},
		{99, "", false},
	}

	for _, tt := range tests {
		n, ok := s.FindByNumber(tt.num)
		if ok != tt.wantOK {
			t.Errorf("FindByNumber(%d) ok = %v, want %v", tt.num, ok, tt.wantOK)
			continue
		}
		if n.Key != tt.wantKey {
			t.Errorf("FindByNumber(%d) = %q, want %q", tt.num, n.Key, tt.wantKey)
		}
	}
}

func TestStore_FindByNumberFirstInOrder(t *testing.T) {
	s := NewStore()
	s.Load(&models.Topology{NodeArr: []models.Node{
		{Key: "a-3", X: models.Float(1), Y: models.Float(1)},
		{Key: "3", X: models.Float(2), Y: models.Float(2)},
	}})

	n, ok := s.FindByNumber(3)
	if !ok || n.Key != "a-3" {
		t.Errorf("expected first node in order, got %q", n.Key)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		node       models.Node
		wantCamera int
		isCamera   bool
		isCharge   bool
	}{
		{"camera", models.Node{Key: "n1", Name: "Camera12"}, 12, true, false},
		{"camera lower case", models.Node{Key: "n2", Name: "camera 3"}, 3, true, false},
		{"camera without id", models.Node{Key: "n3", Name: "CameraX"}, 0, false, false},
		{"charge by type", models.Node{Key: "n4", Name: "Dock", Type: models.NodeTypeCharge}, 0, false, true},
		{"charge by key", models.Node{Key: "ChargeStation2", Name: "Dock"}, 0, false, true},
		{"charge by name word", models.Node{Key: "n5", Name: "Dock 2 charger"}, 0, false, true},
		{"charge camel case", models.Node{Key: "SlowCharging1", Name: "Dock"}, 0, false, true},
		{"charge upper case", models.Node{Key: "CHARGE_03", Name: "Dock"}, 0, false, true},
		{"discharge is not a charge point", models.Node{Key: "n6", Name: "Discharge lane"}, 0, false, false},
		{"surcharge key", models.Node{Key: "surcharge-7", Name: "Cell"}, 0, false, false},
		{"plain", models.Node{Key: "cell-1", Name: "Cell"}, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := CameraID(tt.node)
			if ok != tt.isCamera || id != tt.wantCamera {
				t.Errorf("CameraID = %d, %v; want %d, %v", id, ok, tt.wantCamera, tt.isCamera)
			}
			if IsCamera(tt.node) != tt.isCamera {
				t.Errorf("IsCamera = %v", !tt.isCamera)
			}
			if IsCharge(tt.node) != tt.isCharge {
				t.Errorf("IsCharge = %v", !tt.isCharge)
			}
		})
	}
}

func TestDigitHelpers(t *testing.T) {
	if n, ok := DigitsOnly("AGV-0042x"); !ok || n != 42 {
		t.Errorf("DigitsOnly = %d, %v", n, ok)
	}
	if _, ok := DigitsOnly("none"); ok {
		t.Error("DigitsOnly should fail without digits")
	}
	if n, ok := NumericSuffix("cell-15"); !ok || n != 15 {
		t.Errorf("NumericSuffix = %d, %v", n, ok)
	}
	if _, ok := NumericSuffix("15-cell"); ok {
		t.Error("NumericSuffix should need trailing digits")
	}
}

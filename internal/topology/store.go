// Package topology holds the static node/connection graph of the current
// facility and answers lookups against it.
package topology

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
)

var cameraNamePattern = regexp.MustCompile(`(?i)^camera\s*[-_]?\s*(\d+)$`)

// Store is an immutable-per-load view of one topology snapshot.
// It is owned by a single engine and is not safe for concurrent mutation.
type Store struct {
	topo     *models.Topology
	byKey    map[string]int
	byNumber map[int]int
	version  uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		topo:     &models.Topology{NodeArr: []models.Node{}, LineArr: []models.Connection{}},
		byKey:    make(map[string]int),
		byNumber: make(map[int]int),
	}
}

// Load replaces the snapshot wholesale. Duplicate keys keep their first occurrence.
func (s *Store) Load(topo *models.Topology) {
	if topo == nil {
		topo = &models.Topology{}
	}
	s.topo = topo
	s.byKey = make(map[string]int, len(topo.NodeArr))
	s.byNumber = make(map[int]int, len(topo.NodeArr))

	for i, n := range topo.NodeArr {
		if _, dup := s.byKey[n.Key]; !dup {
			s.byKey[n.Key] = i
		}
		if num, ok := NumericSuffix(n.Key); ok {
			if _, dup := s.byNumber[num]; !dup {
				s.byNumber[num] = i
			}
		}
	}
	s.version++
}

// Version increments on every Load; zero means nothing was loaded yet.
func (s *Store) Version() uint64 {
	return s.version
}

// Snapshot returns the loaded topology.
func (s *Store) Snapshot() *models.Topology {
	return s.topo
}

// Size returns the declared plane size of the facility.
func (s *Store) Size() (width, height float64) {
	return s.topo.Width, s.topo.Height
}

// Nodes returns the nodes in snapshot order.
func (s *Store) Nodes() []models.Node {
	return s.topo.NodeArr
}

// Connections returns the connections in snapshot order.
func (s *Store) Connections() []models.Connection {
	return s.topo.LineArr
}

// Node looks up a node by key.
func (s *Store) Node(key string) (models.Node, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return models.Node{}, false
	}
	return s.topo.NodeArr[i], true
}

// FindByNumber finds the first node, in snapshot order, whose key equals the
// number literally or ends in it (5 matches both "5" and "cell-5").
func (s *Store) FindByNumber(num int) (models.Node, bool) {
	best := -1
	if i, ok := s.byKey[strconv.Itoa(num)]; ok {
		best = i
	}
	if i, ok := s.byNumber[num]; ok && (best < 0 || i < best) {
		best = i
	}
	if best < 0 {
		return models.Node{}, false
	}
	return s.topo.NodeArr[best], true
}

// Position returns a node's coordinates when both are present.
func Position(n models.Node) (geometry.Point, bool) {
	if !n.HasCoordinates() {
		return geometry.Point{}, false
	}
	return geometry.Point{X: n.X.Value, Y: n.Y.Value}, true
}

// CameraID extracts N from a node named "CameraN".
func CameraID(n models.Node) (int, bool) {
	m := cameraNamePattern.FindStringSubmatch(strings.TrimSpace(n.Name))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsCamera reports whether a node is rendered on the camera layer.
func IsCamera(n models.Node) bool {
	_, ok := CameraID(n)
	return ok
}

// chargeWord matches "charge", "charger" or "charging" starting a word,
// including a camel-case word ("SlowCharger"). "Discharge" does not match.
var chargeWord = regexp.MustCompile(`(?:^|[^A-Za-z])(?:[Cc]harg(?:e|ing)|CHARG(?:E|ING))|[a-z]Charg(?:e|ing)`)

// IsCharge reports whether a node is a charge station, by type or by a
// charge word in its key or name.
func IsCharge(n models.Node) bool {
	if n.Type == models.NodeTypeCharge {
		return true
	}
	return chargeWord.MatchString(n.Key) || chargeWord.MatchString(n.Name)
}

// NumericSuffix returns the trailing run of digits in s.
func NumericSuffix(s string) (int, bool) {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DigitsOnly strips every non-digit character and parses the rest.
func DigitsOnly(s string) (int, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

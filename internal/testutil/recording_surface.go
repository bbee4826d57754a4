package testutil

import (
	"fmt"
	"sync"

	"github.com/warehouse-map/backend/internal/scene"
)

// SurfaceCall is one recorded Surface invocation.
type SurfaceCall struct {
	Op         string // add, remove, upsert, remove_marker, viewport
	Kind       scene.Kind
	Handle     scene.Handle
	Elements   []scene.Element
	Marker     scene.Marker
	MarkerID   string
	Transition scene.Transition
}

// RecordingSurface wraps a real scene and records every call. It fails the
// duplicate-render invariant eagerly: Violations lists every add that left two
// live handles of the same kind.
type RecordingSurface struct {
	*scene.Scene

	mu         sync.Mutex
	calls      []SurfaceCall
	live       map[scene.Handle]scene.Kind
	violations []string
}

// NewRecordingSurface creates an empty recording surface.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{
		Scene: scene.New(),
		live:  make(map[scene.Handle]scene.Kind),
	}
}

func (r *RecordingSurface) AddLayer(kind scene.Kind, elements []scene.Element) scene.Handle {
	h := r.Scene.AddLayer(kind, elements)

	r.mu.Lock()
	defer r.mu.Unlock()
	for oh, k := range r.live {
		if k == kind {
			r.violations = append(r.violations, fmt.Sprintf("%s added while %s still live", kind, oh))
		}
	}
	r.live[h] = kind
	r.calls = append(r.calls, SurfaceCall{Op: "add", Kind: kind, Handle: h, Elements: elements})
	return h
}

func (r *RecordingSurface) RemoveLayer(h scene.Handle) {
	r.Scene.RemoveLayer(h)

	r.mu.Lock()
	defer r.mu.Unlock()
	kind := r.live[h]
	delete(r.live, h)
	r.calls = append(r.calls, SurfaceCall{Op: "remove", Kind: kind, Handle: h})
}

func (r *RecordingSurface) UpsertMarker(h scene.Handle, m scene.Marker, tr scene.Transition) {
	r.Scene.UpsertMarker(h, m, tr)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "upsert", Kind: r.live[h], Handle: h, Marker: m, Transition: tr})
}

func (r *RecordingSurface) RemoveMarker(h scene.Handle, id string) {
	r.Scene.RemoveMarker(h, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "remove_marker", Kind: r.live[h], Handle: h, MarkerID: id})
}

func (r *RecordingSurface) SetViewport(v scene.Viewport) {
	r.Scene.SetViewport(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "viewport"})
}

// Calls returns a copy of every recorded call.
func (r *RecordingSurface) Calls() []SurfaceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SurfaceCall(nil), r.calls...)
}

// CallsFor returns recorded calls of one op and kind.
func (r *RecordingSurface) CallsFor(op string, kind scene.Kind) []SurfaceCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SurfaceCall
	for _, c := range r.calls {
		if c.Op == op && c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Live returns the number of live handles of a kind.
func (r *RecordingSurface) Live(kind scene.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, k := range r.live {
		if k == kind {
			n++
		}
	}
	return n
}

// Violations returns every duplicate-render violation seen so far.
func (r *RecordingSurface) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

// Reset forgets recorded calls but keeps live state.
func (r *RecordingSurface) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

var _ scene.Surface = (*RecordingSurface)(nil)

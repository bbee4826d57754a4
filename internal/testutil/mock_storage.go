// mock_storage.go - In-memory snapshot store for handler tests
package testutil

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/storage"
	"github.com/warehouse-map/backend/internal/topology"
)

type storedSnapshot struct {
	info models.FileInfo
	raw  []byte
}

// MockStorage keeps validated snapshots in memory. It satisfies storage.Store.
type MockStorage struct {
	mu    sync.RWMutex
	items map[string]*storedSnapshot

	// SaveErr, when set, is returned by every save.
	SaveErr error
}

var _ storage.Store = (*MockStorage)(nil)

func NewMockStorage() *MockStorage {
	return &MockStorage{items: make(map[string]*storedSnapshot)}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, data)
}

// SaveBytes parses data as a topology snapshot and stores it under a fresh id.
func (m *MockStorage) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	topo, err := topology.ParseSnapshotBytes(data)
	if err != nil {
		return nil, err
	}

	snap := &storedSnapshot{
		info: models.FileInfo{
			ID:          uuid.NewString(),
			Name:        name,
			Size:        int64(len(data)),
			UploadedAt:  time.Now(),
			Status:      "imported",
			Nodes:       len(topo.NodeArr),
			Connections: len(topo.LineArr),
		},
		raw: append([]byte(nil), data...),
	}

	m.mu.Lock()
	m.items[snap.info.ID] = snap
	m.mu.Unlock()

	info := snap.info
	return &info, nil
}

func (m *MockStorage) lookup(id string) (*storedSnapshot, error) {
	snap, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return snap, nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	info := snap.info
	return &info, nil
}

// List returns snapshots newest first.
func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	out := make([]*models.FileInfo, 0, len(m.items))
	for _, snap := range m.items {
		info := snap.info
		out = append(out, &info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.items, id)
	return nil
}

func (m *MockStorage) Rename(id string, newName string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	snap.info.Name = newName
	info := snap.info
	return &info, nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	if _, err := m.Get(id); err != nil {
		return "", err
	}
	return "memory://" + id, nil
}

func (m *MockStorage) LoadTopology(id string) (*models.Topology, error) {
	m.mu.RLock()
	snap, err := m.lookup(id)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return topology.ParseSnapshotBytes(snap.raw)
}

// Count returns the number of stored snapshots.
func (m *MockStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Package storage keeps imported topology snapshots on the local filesystem.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/topology"
)

// ErrNotFound is returned for unknown snapshot ids.
var ErrNotFound = errors.New("snapshot not found")

const indexFile = "index.json"

// Store defines the interface for topology snapshot storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	LoadTopology(id string) (*models.Topology, error)
}

// LocalStore implements Store using the local filesystem. Every snapshot is
// validated before it is written; the metadata index is kept in index.json.
type LocalStore struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*models.FileInfo
}

// NewLocalStore creates a LocalStore rooted at dir and reloads its index.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating topology directory: %w", err)
	}

	s := &LocalStore{
		dir:   dir,
		files: make(map[string]*models.FileInfo),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	var list []*models.FileInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decoding index: %w", err)
	}
	for _, info := range list {
		if _, err := os.Stat(s.path(info.ID)); err == nil {
			s.files[info.ID] = info
		}
	}
	return nil
}

// saveIndex must be called with the write lock held.
func (s *LocalStore) saveIndex() error {
	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tmp := filepath.Join(s.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, indexFile))
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save validates and stores a snapshot read from r.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return s.SaveBytes(name, data)
}

// SaveBytes validates and stores a snapshot. The file is written before the
// index so a crash never leaves an index entry without its snapshot.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	topo, err := topology.ParseSnapshotBytes(data)
	if err != nil {
		return nil, err
	}

	info := &models.FileInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		Status:      "imported",
		Nodes:       len(topo.NodeArr),
		Connections: len(topo.LineArr),
	}
	if err := os.WriteFile(s.path(info.ID), data, 0644); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[info.ID] = info
	if err := s.saveIndex(); err != nil {
		delete(s.files, info.ID)
		os.Remove(s.path(info.ID))
		return nil, err
	}
	return info, nil
}

// lookup must be called with the lock held.
func (s *LocalStore) lookup(id string) (*models.FileInfo, error) {
	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

// List returns snapshots newest first, at most limit when limit > 0.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].UploadedAt.After(list[j].UploadedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	delete(s.files, id)
	return s.saveIndex()
}

// Rename changes the display name; the stored id is unchanged.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	info.Name = newName
	return info, s.saveIndex()
}

func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(id); err != nil {
		return "", err
	}
	return s.path(id), nil
}

// LoadTopology parses a stored snapshot.
func (s *LocalStore) LoadTopology(id string) (*models.Topology, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return nil, err
	}
	return topology.ParseSnapshotFile(path)
}

package sync

import (
	"sync"
	"time"
)

// SyncState is the state of one path's sync operation.
type SyncState string

const (
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
)

// PathStatus is the complete status of one path.
type PathStatus struct {
	State       SyncState
	Progress    float64
	Err         error
	LastUpdated time.Time
}

// StatusRegistry tracks which paths are currently being resolved so a
// concurrently-running crawl does not double-schedule them, and surfaces
// progress reported by the transmission layer.
type StatusRegistry struct {
	paths map[string]*PathStatus
	mu    sync.RWMutex
}

func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{
		paths: make(map[string]*PathStatus),
	}
}

func (s *StatusRegistry) SetSyncing(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[relPath] = &PathStatus{
		State:       SyncStateSyncing,
		LastUpdated: time.Now(),
	}
}

func (s *StatusRegistry) SetProgress(relPath string, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.paths[relPath]; ok {
		status.Progress = progress
		status.LastUpdated = time.Now()
	}
}

func (s *StatusRegistry) SetCompleted(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paths, relPath)
}

func (s *StatusRegistry) SetError(relPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[relPath] = &PathStatus{
		State:       SyncStateError,
		Err:         err,
		LastUpdated: time.Now(),
	}
}

func (s *StatusRegistry) IsSyncing(relPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.paths[relPath]
	return ok && status.State == SyncStateSyncing
}

// SyncingCount returns the number of paths currently in flight.
func (s *StatusRegistry) SyncingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, status := range s.paths {
		if status.State == SyncStateSyncing {
			count++
		}
	}
	return count
}

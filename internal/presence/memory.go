package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryStore struct {
	mu      sync.Mutex
	members map[string]Member // session id -> member
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memoryStore{members: make(map[string]Member)}
}

var _ Store = (*memoryStore)(nil)

func (s *memoryStore) Join(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[m.ID]; exists {
		return fmt.Errorf("session already joined: %s", m.ID)
	}
	s.members[m.ID] = m
	return nil
}

func (s *memoryStore) Leave(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()
	return nil
}

// List returns members ordered by join time.
func (s *memoryStore) List(_ context.Context) ([]Member, error) {
	s.mu.Lock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	s.mu.Unlock()
	sortMembers(out)
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Joined.Equal(ms[j].Joined) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].Joined.Before(ms[j].Joined)
	})
}

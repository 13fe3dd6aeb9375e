package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// GroupStore keeps duplicate groups in memory with version-checked merges
type GroupStore struct {
	mu       sync.RWMutex
	groups   map[uuid.UUID]*models.DuplicateGroup
	byMember map[string]uuid.UUID
}

// NewGroupStore creates an empty GroupStore
func NewGroupStore() *GroupStore {
	return &GroupStore{
		groups:   make(map[uuid.UUID]*models.DuplicateGroup),
		byMember: make(map[string]uuid.UUID),
	}
}

// GetGroupByMember returns nil, nil when the record is not grouped
func (s *GroupStore) GetGroupByMember(_ context.Context, recordID string) (*models.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMember[recordID]
	if !ok {
		return nil, nil
	}
	return s.groups[id].Clone(), nil
}

// SaveMerge applies the merge only if every referenced group is unchanged
// and no member has joined an unrelated group in the meantime.
func (s *GroupStore) SaveMerge(_ context.Context, merge *models.GroupMerge) (*models.DuplicateGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[uuid.UUID]struct{}, len(merge.Absorbed)+1)
	if merge.Survivor != nil {
		cur, ok := s.groups[merge.Survivor.ID]
		if !ok || cur.Version != merge.Survivor.Version {
			return nil, models.ErrConflict
		}
		allowed[cur.ID] = struct{}{}
	} else if _, exists := s.groups[merge.Result.ID]; exists {
		return nil, models.ErrConflict
	}
	for _, ref := range merge.Absorbed {
		cur, ok := s.groups[ref.ID]
		if !ok || cur.Version != ref.Version {
			return nil, models.ErrConflict
		}
		allowed[ref.ID] = struct{}{}
	}
	for _, m := range merge.Result.Members {
		if gid, ok := s.byMember[m.RecordID]; ok {
			if _, fine := allowed[gid]; !fine {
				return nil, models.ErrConflict
			}
		}
	}

	for _, ref := range merge.Absorbed {
		delete(s.groups, ref.ID)
	}
	g := merge.Result.Clone()
	s.groups[g.ID] = g
	for _, m := range g.Members {
		s.byMember[m.RecordID] = g.ID
	}
	return g.Clone(), nil
}

// Len returns the number of groups
func (s *GroupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

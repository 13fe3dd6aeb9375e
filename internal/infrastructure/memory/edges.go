package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// EdgeStore is a lock-striped in-memory correlation store. Each pair lives in
// exactly one shard, so an upsert holds only that shard's lock and sweeps over
// unrelated pairs never contend.
type EdgeStore struct {
	edges []edgeShard
	index []indexShard
	mask  uint64
}

type edgeShard struct {
	mu     sync.RWMutex
	byPair map[string]*models.CorrelationEdge
}

type indexShard struct {
	mu       sync.RWMutex
	byRecord map[string]map[string]struct{}
	byID     map[uuid.UUID]string
}

// NewEdgeStore creates a store with 2^shardPow shards
func NewEdgeStore(shardPow uint8) *EdgeStore {
	if shardPow > 10 {
		shardPow = 10
	}
	n := 1 << shardPow
	s := &EdgeStore{
		edges: make([]edgeShard, n),
		index: make([]indexShard, n),
		mask:  uint64(n - 1),
	}
	for i := 0; i < n; i++ {
		s.edges[i].byPair = make(map[string]*models.CorrelationEdge)
		s.index[i].byRecord = make(map[string]map[string]struct{})
		s.index[i].byID = make(map[uuid.UUID]string)
	}
	return s
}

func (s *EdgeStore) edgeShardFor(pairKey string) *edgeShard {
	return &s.edges[uint64(fnv32(pairKey))&s.mask]
}

func (s *EdgeStore) indexShardFor(key string) *indexShard {
	return &s.index[uint64(fnv32(key))&s.mask]
}

// UpsertEdge implements services.EdgeStore. Index updates happen under the
// edge shard lock (edge lock first, index lock second, never the reverse).
func (s *EdgeStore) UpsertEdge(_ context.Context, edge *models.CorrelationEdge) (*models.CorrelationEdge, error) {
	in := edge.Clone()
	in.ThreatIDA, in.ThreatIDB = models.CanonicalPair(in.ThreatIDA, in.ThreatIDB)
	key := in.PairKey()

	sh := s.edgeShardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur, ok := sh.byPair[key]; ok {
		cur.OverallScore = in.OverallScore
		cur.ConfidenceLabel = in.ConfidenceLabel
		cur.SignalScores = in.SignalScores
		cur.Evidence = in.Evidence
		cur.AlgorithmVersion = in.AlgorithmVersion
		cur.UpdatedAt = in.UpdatedAt
		return cur.Clone(), nil
	}

	if in.ID == uuid.Nil {
		in.ID = models.EdgeID(in.ThreatIDA, in.ThreatIDB)
	}
	in.Status = models.EdgeStatusProposed
	in.ReviewedAt = nil
	sh.byPair[key] = in
	s.indexAdd(in, key)
	return in.Clone(), nil
}

// DeleteProposedEdge implements services.EdgeStore
func (s *EdgeStore) DeleteProposedEdge(_ context.Context, a, b string) (bool, error) {
	key := models.PairKey(a, b)
	sh := s.edgeShardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.byPair[key]
	if !ok || cur.Status != models.EdgeStatusProposed {
		return false, nil
	}
	delete(sh.byPair, key)
	s.indexRemove(cur, key)
	return true, nil
}

// GetEdge implements services.EdgeStore
func (s *EdgeStore) GetEdge(_ context.Context, a, b string) (*models.CorrelationEdge, error) {
	return s.getByKey(models.PairKey(a, b))
}

func (s *EdgeStore) getByKey(key string) (*models.CorrelationEdge, error) {
	sh := s.edgeShardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur, ok := sh.byPair[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cur.Clone(), nil
}

// GetEdgeByID implements services.EdgeStore
func (s *EdgeStore) GetEdgeByID(_ context.Context, id uuid.UUID) (*models.CorrelationEdge, error) {
	key, ok := s.pairForID(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.getByKey(key)
}

// ListEdges implements services.EdgeStore. Results are strongest first.
func (s *EdgeStore) ListEdges(_ context.Context, recordID string, minConfidence models.ConfidenceLabel) ([]*models.CorrelationEdge, error) {
	ix := s.indexShardFor(recordID)
	ix.mu.RLock()
	keys := make([]string, 0, len(ix.byRecord[recordID]))
	for k := range ix.byRecord[recordID] {
		keys = append(keys, k)
	}
	ix.mu.RUnlock()

	out := make([]*models.CorrelationEdge, 0, len(keys))
	for _, k := range keys {
		e, err := s.getByKey(k)
		if err != nil {
			// removed since the index was read
			continue
		}
		if e.ConfidenceLabel.AtLeast(minConfidence) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

// SetStatus implements services.EdgeStore
func (s *EdgeStore) SetStatus(_ context.Context, id uuid.UUID, status models.EdgeStatus, at time.Time) (*models.CorrelationEdge, error) {
	key, ok := s.pairForID(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	sh := s.edgeShardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.byPair[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	cur.Status = status
	cur.ReviewedAt = &at
	return cur.Clone(), nil
}

// ListStaleRecordIDs implements services.EdgeStore
func (s *EdgeStore) ListStaleRecordIDs(_ context.Context, version int, limit int) ([]string, error) {
	seen := make(map[string]struct{})
	for i := range s.edges {
		sh := &s.edges[i]
		sh.mu.RLock()
		for _, e := range sh.byPair {
			if e.AlgorithmVersion < version {
				seen[e.ThreatIDA] = struct{}{}
				seen[e.ThreatIDB] = struct{}{}
			}
		}
		sh.mu.RUnlock()
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// MarkRescored implements services.EdgeStore
func (s *EdgeStore) MarkRescored(_ context.Context, recordID string, version int) (int, error) {
	ix := s.indexShardFor(recordID)
	ix.mu.RLock()
	keys := make([]string, 0, len(ix.byRecord[recordID]))
	for k := range ix.byRecord[recordID] {
		keys = append(keys, k)
	}
	ix.mu.RUnlock()

	marked := 0
	for _, k := range keys {
		sh := s.edgeShardFor(k)
		sh.mu.Lock()
		if cur, ok := sh.byPair[k]; ok && cur.AlgorithmVersion < version {
			cur.AlgorithmVersion = version
			marked++
		}
		sh.mu.Unlock()
	}
	return marked, nil
}

// Len returns the number of stored edges
func (s *EdgeStore) Len() int {
	n := 0
	for i := range s.edges {
		sh := &s.edges[i]
		sh.mu.RLock()
		n += len(sh.byPair)
		sh.mu.RUnlock()
	}
	return n
}

func (s *EdgeStore) indexAdd(e *models.CorrelationEdge, key string) {
	for _, rid := range []string{e.ThreatIDA, e.ThreatIDB} {
		ix := s.indexShardFor(rid)
		ix.mu.Lock()
		set, ok := ix.byRecord[rid]
		if !ok {
			set = make(map[string]struct{})
			ix.byRecord[rid] = set
		}
		set[key] = struct{}{}
		ix.mu.Unlock()
	}
	ix := s.indexShardFor(e.ID.String())
	ix.mu.Lock()
	ix.byID[e.ID] = key
	ix.mu.Unlock()
}

func (s *EdgeStore) indexRemove(e *models.CorrelationEdge, key string) {
	for _, rid := range []string{e.ThreatIDA, e.ThreatIDB} {
		ix := s.indexShardFor(rid)
		ix.mu.Lock()
		if set, ok := ix.byRecord[rid]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(ix.byRecord, rid)
			}
		}
		ix.mu.Unlock()
	}
	ix := s.indexShardFor(e.ID.String())
	ix.mu.Lock()
	delete(ix.byID, e.ID)
	ix.mu.Unlock()
}

func (s *EdgeStore) pairForID(id uuid.UUID) (string, bool) {
	ix := s.indexShardFor(id.String())
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	key, ok := ix.byID[id]
	return key, ok
}

func sortEdges(edges []*models.CorrelationEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].OverallScore != edges[j].OverallScore {
			return edges[i].OverallScore > edges[j].OverallScore
		}
		return edges[i].PairKey() < edges[j].PairKey()
	})
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// RecordStore is an in-memory record store with inverted indexes on
// indicator and infrastructure keys plus a first-seen ordering, so candidate
// lookups never walk every record. It also acts as its own change feed.
type RecordStore struct {
	mu       sync.RWMutex
	records  map[string]*models.ThreatRecord
	byKey    map[string]map[string]struct{}
	timeline []string // record ids ordered by first_seen, then id
	// maxSpan is the longest last_seen - first_seen ever indexed. It only grows.
	maxSpan time.Duration

	subMu       sync.RWMutex
	subscribers []func(models.RecordChange) error
}

// NewRecordStore creates an empty store
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]*models.ThreatRecord),
		byKey:   make(map[string]map[string]struct{}),
	}
}

// Put inserts or replaces a record and notifies subscribers
func (s *RecordStore) Put(_ context.Context, rec *models.ThreatRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	c := cloneRecord(rec)

	s.mu.Lock()
	kind := models.RecordCreated
	if old, ok := s.records[c.ID]; ok {
		kind = models.RecordUpdated
		s.unindex(old)
	}
	s.records[c.ID] = c
	s.index(c)
	s.mu.Unlock()

	s.notify(models.RecordChange{RecordID: c.ID, Kind: kind, Timestamp: time.Now().UTC()})
	return nil
}

// Delete removes a record and notifies subscribers
func (s *RecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	old, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	s.unindex(old)
	delete(s.records, id)
	s.mu.Unlock()

	s.notify(models.RecordChange{RecordID: id, Kind: models.RecordDeleted, Timestamp: time.Now().UTC()})
	return nil
}

// GetRecord returns a copy of the record
func (s *RecordStore) GetRecord(_ context.Context, id string) (*models.ThreatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// FindCandidates returns ids sharing an indicator or infrastructure key with
// id, or whose active window lies within maxWindowDays of id's window.
func (s *RecordStore) FindCandidates(_ context.Context, id string, maxWindowDays int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	found := make(map[string]struct{})
	for _, key := range recordKeys(src) {
		for other := range s.byKey[key] {
			found[other] = struct{}{}
		}
	}

	window := time.Duration(maxWindowDays) * 24 * time.Hour
	lower := src.FirstSeen.Add(-window)
	for _, other := range s.activeBetween(lower, src.LastSeen.Add(window)) {
		if !s.records[other].LastSeen.Before(lower) {
			found[other] = struct{}{}
		}
	}

	delete(found, id)
	out := make([]string, 0, len(found))
	for other := range found {
		out = append(out, other)
	}
	sort.Strings(out)
	return out, nil
}

// OnRecordChanged registers cb for every later Put and Delete. There is no
// redelivery, so errors from cb are dropped.
func (s *RecordStore) OnRecordChanged(_ context.Context, cb func(models.RecordChange) error) error {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, cb)
	s.subMu.Unlock()
	return nil
}

func (s *RecordStore) notify(change models.RecordChange) {
	s.subMu.RLock()
	subs := slices.Clone(s.subscribers)
	s.subMu.RUnlock()
	for _, cb := range subs {
		_ = cb(change)
	}
}

// activeBetween narrows the timeline to records that may be active somewhere
// in [lower, upper]. Nothing starting after upper qualifies, and nothing
// starting before lower-maxSpan can still be active at lower.
func (s *RecordStore) activeBetween(lower, upper time.Time) []string {
	earliest := lower.Add(-s.maxSpan)
	from := sort.Search(len(s.timeline), func(i int) bool {
		return !s.records[s.timeline[i]].FirstSeen.Before(earliest)
	})
	to := sort.Search(len(s.timeline), func(i int) bool {
		return s.records[s.timeline[i]].FirstSeen.After(upper)
	})
	if from > to {
		return nil
	}
	return s.timeline[from:to]
}

func (s *RecordStore) index(rec *models.ThreatRecord) {
	if span := rec.LastSeen.Sub(rec.FirstSeen); span > s.maxSpan {
		s.maxSpan = span
	}
	for _, key := range recordKeys(rec) {
		set, ok := s.byKey[key]
		if !ok {
			set = make(map[string]struct{})
			s.byKey[key] = set
		}
		set[rec.ID] = struct{}{}
	}

	i := sort.Search(len(s.timeline), func(i int) bool {
		return timelineLess(rec, s.records[s.timeline[i]])
	})
	s.timeline = append(s.timeline, "")
	copy(s.timeline[i+1:], s.timeline[i:])
	s.timeline[i] = rec.ID
}

func (s *RecordStore) unindex(rec *models.ThreatRecord) {
	for _, key := range recordKeys(rec) {
		if set, ok := s.byKey[key]; ok {
			delete(set, rec.ID)
			if len(set) == 0 {
				delete(s.byKey, key)
			}
		}
	}
	for i, id := range s.timeline {
		if id == rec.ID {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
}

func timelineLess(a, b *models.ThreatRecord) bool {
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return a.ID < b.ID
}

func recordKeys(rec *models.ThreatRecord) []string {
	var keys []string
	for _, k := range models.IndicatorKeys(rec.Indicators) {
		keys = append(keys, "ind|"+k)
	}
	for _, k := range models.IndicatorKeys(rec.Infrastructure) {
		keys = append(keys, "infra|"+k)
	}
	return keys
}

func cloneRecord(r *models.ThreatRecord) *models.ThreatRecord {
	c := *r
	c.Indicators = append([]models.Indicator(nil), r.Indicators...)
	c.Infrastructure = append([]models.Indicator(nil), r.Infrastructure...)
	c.BehaviorTags = append([]string(nil), r.BehaviorTags...)
	return &c
}

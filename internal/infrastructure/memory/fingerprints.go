package memory

import (
	"context"
	"sort"
	"sync"
)

// FingerprintIndex maps content fingerprints to record ids
type FingerprintIndex struct {
	mu  sync.RWMutex
	ids map[string]map[string]struct{}
}

// NewFingerprintIndex creates an empty index
func NewFingerprintIndex() *FingerprintIndex {
	return &FingerprintIndex{ids: make(map[string]map[string]struct{})}
}

// Register adds recordID under fingerprint
func (f *FingerprintIndex) Register(_ context.Context, fingerprint, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.ids[fingerprint]
	if !ok {
		set = make(map[string]struct{})
		f.ids[fingerprint] = set
	}
	set[recordID] = struct{}{}
	return nil
}

// Lookup returns the sorted ids registered under fingerprint
func (f *FingerprintIndex) Lookup(_ context.Context, fingerprint string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ids[fingerprint]))
	for id := range f.ids[fingerprint] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

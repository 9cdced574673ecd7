package cloud

import (
	"sync/atomic"
	"time"
)

// Index maps document and collection ids onto their entries.
type Index struct {
	byID    map[string]Entry
	builtAt time.Time
}

// NewIndex builds an index over tree. For duplicate ids the first entry wins.
func NewIndex(tree Tree) *Index {
	idx := &Index{byID: make(map[string]Entry, len(tree)), builtAt: time.Now()}
	for _, entry := range tree {
		if _, exists := idx.byID[entry.ID]; exists {
			continue
		}
		idx.byID[entry.ID] = entry
	}
	return idx
}

// Lookup returns the entry for id.
func (i *Index) Lookup(id string) (Entry, bool) {
	if i == nil {
		return Entry{}, false
	}
	entry, ok := i.byID[id]
	return entry, ok
}

// LatestVersion returns the listed version of document id.
func (i *Index) LatestVersion(id string) (int, bool) {
	entry, ok := i.Lookup(id)
	if !ok || !entry.IsDocument() {
		return 0, false
	}
	return entry.Version, true
}

// Len returns the number of indexed entries.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byID)
}

// BuiltAt returns when the index was built.
func (i *Index) BuiltAt() time.Time {
	if i == nil {
		return time.Time{}
	}
	return i.builtAt
}

// IndexHolder publishes the index of the most recent listing.
type IndexHolder struct {
	current atomic.Pointer[Index]
}

// Store replaces the published index.
func (h *IndexHolder) Store(idx *Index) {
	h.current.Store(idx)
}

// Load returns the published index, or nil before the first listing.
func (h *IndexHolder) Load() *Index {
	return h.current.Load()
}

// LatestVersion consults the published index. It reports false before the
// first listing or for unknown documents.
func (h *IndexHolder) LatestVersion(id string) (int, bool) {
	return h.Load().LatestVersion(id)
}

// Lookup consults the published index.
func (h *IndexHolder) Lookup(id string) (Entry, bool) {
	return h.Load().Lookup(id)
}

package domready

import "sync"

// Registry maps fingerprints to unsettled results. Entries are removed when
// their result settles. A Registry may be shared by several Watchers.
type Registry struct {
	mu      sync.Mutex
	entries map[Fingerprint]*Pending
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Fingerprint]*Pending)}
}

// Get returns the in-flight result for fp, if any.
func (r *Registry) Get(fp Fingerprint) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[fp]
	if ok && p.Settled() {
		return nil, false
	}
	return p, ok
}

// Set stores p under fp, replacing any previous entry.
func (r *Registry) Set(fp Fingerprint, p *Pending) {
	r.mu.Lock()
	r.entries[fp] = p
	r.mu.Unlock()
}

// Delete removes the entry for fp.
func (r *Registry) Delete(fp Fingerprint) {
	r.mu.Lock()
	delete(r.entries, fp)
	r.mu.Unlock()
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// loadOrStore returns the unsettled entry for fp, or stores p.
func (r *Registry) loadOrStore(fp Fingerprint, p *Pending) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[fp]; ok && !cur.Settled() {
		return cur, true
	}
	r.entries[fp] = p
	return p, false
}

// deleteIf removes the entry for fp only while it still points at p.
func (r *Registry) deleteIf(fp Fingerprint, p *Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[fp] != p {
		return false
	}
	delete(r.entries, fp)
	return true
}

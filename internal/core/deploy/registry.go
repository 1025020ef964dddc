package deploy

import (
	"sort"
	"strings"
	"sync"

	"github.com/melih/lab-agent/internal/core/domain"
)

// Registry holds the records of deployments this agent started.
type Registry struct {
	mu      sync.RWMutex
	records map[string]domain.DeploymentRecord
	pending map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]domain.DeploymentRecord),
		pending: make(map[string]struct{}),
	}
}

// Claim reserves a name for a deployment in progress. It fails if a
// record or another in-progress deployment already uses the name.
func (r *Registry) Claim(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[name]; ok {
		return false
	}
	for _, rec := range r.records {
		if rec.Name == name {
			return false
		}
	}
	r.pending[name] = struct{}{}
	return true
}

// Unclaim drops a claim taken by Claim.
func (r *Registry) Unclaim(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, name)
}

// Put stores a record. Records are never modified after this.
func (r *Registry) Put(rec domain.DeploymentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
}

// Delete forgets a record and returns it.
func (r *Registry) Delete(id string) (domain.DeploymentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	delete(r.records, id)
	return rec, ok
}

// Lookup resolves a full id, a unique id prefix of at least 12
// characters, or a name.
func (r *Registry) Lookup(ref string) (domain.DeploymentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[ref]; ok {
		return rec, true
	}
	var (
		found domain.DeploymentRecord
		n     int
	)
	for id, rec := range r.records {
		if rec.Name == ref {
			return rec, true
		}
		if len(ref) >= 12 && strings.HasPrefix(id, ref) {
			found = rec
			n++
		}
	}
	return found, n == 1
}

// List returns all records, oldest first.
func (r *Registry) List() []domain.DeploymentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DeploymentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

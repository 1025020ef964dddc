// Package ipam hands out addresses and host ports without conflicts.
//
// A Pool tracks every candidate value as free, reserved or in-use. Reserve
// picks the lowest free value; a reservation becomes in-use once the
// container it was taken for is running, or goes back to free when the
// launch fails. Nothing is persisted: after a restart the pool is rebuilt
// from what the runtime reports through Reconcile.
package ipam

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned by Reserve when every value is taken.
	ErrExhausted = errors.New("pool exhausted")
	// ErrUnavailable is returned by ReserveValue for a value that is not free.
	ErrUnavailable = errors.New("value not available")
	// ErrOutOfRange is returned for values the pool does not manage.
	ErrOutOfRange = errors.New("value outside pool range")
	// ErrNotReserved is returned by Confirm for a value that was not reserved.
	ErrNotReserved = errors.New("value not reserved")
)

// Status is the allocation state of one value.
type Status uint8

const (
	Free Status = iota
	Reserved
	InUse
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Reserved:
		return "reserved"
	case InUse:
		return "in-use"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Checkpoint orders pool transitions against an external listing.
type Checkpoint uint64

// Stats counts values per state.
type Stats struct {
	Total    int `json:"total"`
	Free     int `json:"free"`
	Reserved int `json:"reserved"`
	InUse    int `json:"in_use"`
}

// ReconcileResult reports what Reconcile changed.
type ReconcileResult[T comparable] struct {
	Adopted []T // free values found live, now in-use
	Freed   []T // in-use values no longer live, now free
	Unknown []T // live values outside the pool
}

type entry struct {
	status Status
	seq    uint64 // transition counter value at the entry's last confirm, free or adoption
}

// Pool is a first-fit allocator over an ordered set of candidates.
// The zero value is not usable; construct with New.
type Pool[T comparable] struct {
	mu      sync.Mutex
	order   []T
	index   map[T]int
	entries []entry
	seq     uint64
}

// New returns a pool over candidates in the given order. Duplicates are dropped.
func New[T comparable](candidates []T) *Pool[T] {
	p := &Pool[T]{
		order: make([]T, 0, len(candidates)),
		index: make(map[T]int, len(candidates)),
	}
	for _, c := range candidates {
		if _, dup := p.index[c]; dup {
			continue
		}
		p.index[c] = len(p.order)
		p.order = append(p.order, c)
	}
	p.entries = make([]entry, len(p.order))
	return p
}

// Size returns the number of values the pool manages.
func (p *Pool[T]) Size() int {
	return len(p.order)
}

// Contains reports whether v belongs to the pool.
func (p *Pool[T]) Contains(v T) bool {
	_, ok := p.index[v]
	return ok
}

// Reserve marks the lowest free value reserved and returns it.
func (p *Pool[T]) Reserve() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		if p.entries[i].status == Free {
			p.entries[i].status = Reserved
			return p.order[i], nil
		}
	}
	var zero T
	return zero, ErrExhausted
}

// ReserveValue reserves v if it is free.
func (p *Pool[T]) ReserveValue(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[v]
	if !ok {
		return ErrOutOfRange
	}
	if p.entries[i].status != Free {
		return ErrUnavailable
	}
	p.entries[i].status = Reserved
	return nil
}

// Release returns a reserved value to the free set. Free, in-use and
// unknown values are left alone, so calling it twice is harmless.
func (p *Pool[T]) Release(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.index[v]; ok && p.entries[i].status == Reserved {
		p.seq++
		p.entries[i] = entry{status: Free, seq: p.seq}
	}
}

// Confirm moves a reserved value to in-use.
func (p *Pool[T]) Confirm(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[v]
	if !ok {
		return ErrOutOfRange
	}
	if p.entries[i].status != Reserved {
		return ErrNotReserved
	}
	p.seq++
	p.entries[i] = entry{status: InUse, seq: p.seq}
	return nil
}

// Free returns an in-use value to the free set once its container is gone.
func (p *Pool[T]) Free(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.index[v]; ok && p.entries[i].status == InUse {
		p.seq++
		p.entries[i] = entry{status: Free, seq: p.seq}
	}
}

// State returns the status of v.
func (p *Pool[T]) State(v T) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[v]
	if !ok {
		return Free, ErrOutOfRange
	}
	return p.entries[i].status, nil
}

// Checkpoint must be taken before listing the runtime for Reconcile.
func (p *Pool[T]) Checkpoint() Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Checkpoint(p.seq)
}

// ChangedSince reports whether v was confirmed, freed or adopted after cp.
// Values outside the pool never change.
func (p *Pool[T]) ChangedSince(v T, cp Checkpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[v]
	return ok && p.entries[i].seq > uint64(cp)
}

// Reconcile aligns the pool with the values the runtime reports live.
// Free values that are live become in-use, and in-use values that are not
// live are freed, but only for entries that have not changed since cp: a
// listing already in flight may miss a value confirmed after cp, or still
// show one freed after cp. Reserved values are never touched.
func (p *Pool[T]) Reconcile(cp Checkpoint, live []T) ReconcileResult[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res ReconcileResult[T]
	seen := make(map[int]bool, len(live))
	for _, v := range live {
		i, ok := p.index[v]
		if !ok {
			res.Unknown = append(res.Unknown, v)
			continue
		}
		seen[i] = true
		if e := p.entries[i]; e.status == Free && e.seq <= uint64(cp) {
			p.seq++
			p.entries[i] = entry{status: InUse, seq: p.seq}
			res.Adopted = append(res.Adopted, v)
		}
	}

	for i := range p.entries {
		e := p.entries[i]
		if e.status != InUse || seen[i] || e.seq > uint64(cp) {
			continue
		}
		p.seq++
		p.entries[i] = entry{status: Free, seq: p.seq}
		res.Freed = append(res.Freed, p.order[i])
	}
	return res
}

// Stats returns counts per state.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.status {
		case Free:
			s.Free++
		case Reserved:
			s.Reserved++
		case InUse:
			s.InUse++
		}
	}
	return s
}

// Package registry holds the immutable signature library the aggregator
// matches against. Writers build a fresh snapshot and publish it atomically;
// in-flight scoring keeps the snapshot it started with.
package registry

import (
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"vigil/internal/domain"
)

// Compiled is a signature with its regex pre-compiled. Kind != regex leaves
// Regexp nil.
type Compiled struct {
	domain.Signature
	Regexp *regexp.Regexp
}

// Snapshot is one immutable, versioned view of the active library.
// Signatures are ordered by ascending id so match output is deterministic.
type Snapshot struct {
	Version    int64
	Signatures []Compiled
	byID       map[string]*Compiled
}

// Get looks a signature up by id.
func (s *Snapshot) Get(id string) (Compiled, bool) {
	c, ok := s.byID[id]
	if !ok {
		return Compiled{}, false
	}
	return *c, true
}

// Len reports how many signatures the snapshot matches against.
func (s *Snapshot) Len() int { return len(s.Signatures) }

// Registry publishes snapshots. Reads are lock-free; the mutex only
// serializes writers.
type Registry struct {
	mu      sync.Mutex
	version int64
	current atomic.Pointer[Snapshot]
	log     *zap.Logger
}

func New(log *zap.Logger) *Registry {
	r := &Registry{log: log}
	r.current.Store(&Snapshot{byID: map[string]*Compiled{}})
	return r
}

// Snapshot returns the current published view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Validate checks a signature definition without touching the registry.
func Validate(sig domain.Signature) error {
	if sig.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !sig.Kind.Valid() {
		return &domain.ValidationError{Field: "matchKind", Reason: "unknown kind " + string(sig.Kind)}
	}
	if sig.Pattern == "" {
		return &domain.ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	if sig.Weight <= 0 {
		return &domain.ValidationError{Field: "weight", Reason: "must be > 0"}
	}
	if sig.Kind == domain.MatchRegex {
		if _, err := regexp.Compile(sig.Pattern); err != nil {
			return &domain.ValidationError{Field: "pattern", Reason: err.Error()}
		}
	}
	return nil
}

func compile(sig domain.Signature) (Compiled, error) {
	c := Compiled{Signature: sig}
	if sig.Kind == domain.MatchRegex {
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return c, &domain.RegistryCompileError{SignatureID: sig.ID, Pattern: sig.Pattern, Cause: err}
		}
		c.Regexp = re
	}
	return c, nil
}

// Upsert validates the signature and publishes a new snapshot including it.
func (r *Registry) Upsert(sig domain.Signature) error {
	if err := Validate(sig); err != nil {
		return err
	}
	c, err := compile(sig)
	if err != nil {
		// unreachable after Validate, kept for safety
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cloneLocked()
	if !sig.Active {
		delete(next, sig.ID)
	} else {
		next[sig.ID] = &c
	}
	r.publishLocked(next)
	return nil
}

// Deactivate removes a signature from future snapshots. Unknown ids are a
// no-op: the signature may exist only in storage.
func (r *Registry) Deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cloneLocked()
	if _, ok := next[id]; !ok {
		return
	}
	delete(next, id)
	r.publishLocked(next)
}

// Replace swaps the whole library, typically after a reload from storage or a
// feed pull. Signatures whose regex does not compile are quarantined and
// reported; they never abort the rest of the batch. Inactive signatures are
// skipped.
func (r *Registry) Replace(sigs []domain.Signature) (version int64, quarantined []*domain.RegistryCompileError) {
	next := make(map[string]*Compiled, len(sigs))
	for _, sig := range sigs {
		if !sig.Active {
			continue
		}
		if sig.Weight <= 0 {
			r.log.Warn("registry: skipping signature with non-positive weight",
				zap.String("signature_id", sig.ID), zap.Float64("weight", sig.Weight))
			continue
		}
		c, err := compile(sig)
		if err != nil {
			var cerr *domain.RegistryCompileError
			if e, ok := err.(*domain.RegistryCompileError); ok {
				cerr = e
			} else {
				cerr = &domain.RegistryCompileError{SignatureID: sig.ID, Pattern: sig.Pattern, Cause: err}
			}
			quarantined = append(quarantined, cerr)
			r.log.Warn("registry: quarantined signature", zap.String("signature_id", sig.ID), zap.Error(err))
			continue
		}
		next[sig.ID] = &c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(next)
	return r.version, quarantined
}

func (r *Registry) cloneLocked() map[string]*Compiled {
	cur := r.current.Load()
	next := make(map[string]*Compiled, len(cur.byID)+1)
	for id, c := range cur.byID {
		next[id] = c
	}
	return next
}

func (r *Registry) publishLocked(byID map[string]*Compiled) {
	ordered := make([]Compiled, 0, len(byID))
	for _, c := range byID {
		ordered = append(ordered, *c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	r.version++
	r.current.Store(&Snapshot{
		Version:    r.version,
		Signatures: ordered,
		byID:       byID,
	})
}

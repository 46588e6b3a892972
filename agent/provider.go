// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Grounded on other_examples/d219fa81_Debashish-Mukherjee-go-snmpsim__internal-store-loader.go's
// registry-of-providers-over-an-OID-keyed-store shape, generalized per
// spec.md §4.5/§9 into a Provider interface queried by a Registry in
// registration order.

// Package agent implements the SNMP agent side: version routing, access
// control, and the scalar/table provider registry that answers Get/
// GetNext/GetBulk/Set requests.
package agent

import (
	"sort"
	"sync"

	nsnmp "github.com/johmnym/nSNMP-sub000"
)

// Provider answers queries for some subtree of the MIB. A single Provider
// may back either a scalar (one instance OID) or a table (many instance
// OIDs sharing a conceptual row/column shape) - the interface doesn't
// distinguish the two, matching spec.md §4.5's "scalar & table providers"
// wording: tables are simply providers with more than one entry (§5 "C8").
type Provider interface {
	// CanHandle reports whether oid falls within this provider's domain.
	CanHandle(oid nsnmp.OID) bool

	// Get returns the exact instance oid's tag and value. found is false
	// if no such instance exists.
	Get(oid nsnmp.OID) (tag nsnmp.Asn1BER, value interface{}, found bool)

	// NextOID returns the lexicographically smallest instance OID this
	// provider holds that is strictly greater than oid. found is false if
	// none exists (end of this provider's domain).
	NextOID(oid nsnmp.OID) (next nsnmp.OID, found bool)

	// Validate checks whether a SetRequest's varbind would be acceptable
	// (type, writability, value range) without applying it (§4.5 "two-phase
	// in design").
	Validate(vb nsnmp.VarBind) error

	// Commit applies a previously-validated varbind.
	Commit(vb nsnmp.VarBind) error

	// Undo reverses a previously-committed varbind, best-effort, when a
	// later varbind in the same SetRequest fails to commit.
	Undo(vb nsnmp.VarBind) error
}

// entry is one (OID, tag, value) instance held by a MemoryProvider.
type entry struct {
	oid      nsnmp.OID
	tag      nsnmp.Asn1BER
	value    interface{}
	writable bool
	prior    interface{} // value before the in-flight Commit, for Undo
}

// MemoryProvider is a general-purpose in-memory Provider: a sorted set of
// instance OIDs, each holding a tag/value and an optional writability flag.
// It serves both scalars (one entry) and tables (many entries sharing a
// column/row OID structure) - the same shape the teacher's agent examples
// use for a "backing store" of OID -> value (§5 "C8").
type MemoryProvider struct {
	root nsnmp.OID

	mu      sync.RWMutex
	entries []entry // kept sorted by oid
}

// NewMemoryProvider constructs an empty provider rooted at root; CanHandle
// reports true only for OIDs under root.
func NewMemoryProvider(root nsnmp.OID) *MemoryProvider {
	return &MemoryProvider{root: root}
}

// Set installs or replaces the entry at oid (configuration time, not a
// SNMP SetRequest - see Validate/Commit/Undo for that).
func (p *MemoryProvider) Set(oid nsnmp.OID, tag nsnmp.Asn1BER, value interface{}, writable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.entries {
		if p.entries[i].oid.Equal(oid) {
			p.entries[i].tag = tag
			p.entries[i].value = value
			p.entries[i].writable = writable
			return
		}
	}
	p.entries = append(p.entries, entry{oid: oid, tag: tag, value: value, writable: writable})
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].oid.Less(p.entries[j].oid) })
}

func (p *MemoryProvider) CanHandle(oid nsnmp.OID) bool {
	return p.root.IsPrefixOf(oid)
}

func (p *MemoryProvider) Get(oid nsnmp.OID) (nsnmp.Asn1BER, interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if e.oid.Equal(oid) {
			return e.tag, e.value, true
		}
	}
	return 0, nil, false
}

func (p *MemoryProvider) NextOID(oid nsnmp.OID) (nsnmp.OID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if oid.Less(e.oid) {
			return e.oid, true
		}
	}
	return nil, false
}

func (p *MemoryProvider) find(oid nsnmp.OID) int {
	for i := range p.entries {
		if p.entries[i].oid.Equal(oid) {
			return i
		}
	}
	return -1
}

func (p *MemoryProvider) Validate(vb nsnmp.VarBind) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := p.find(vb.Name)
	if i < 0 {
		return &nsnmp.SnmpError{Status: nsnmp.NoCreation}
	}
	if !p.entries[i].writable {
		return &nsnmp.SnmpError{Status: nsnmp.NotWritable}
	}
	if vb.Type != p.entries[i].tag {
		return &nsnmp.SnmpError{Status: nsnmp.WrongType}
	}
	return nil
}

func (p *MemoryProvider) Commit(vb nsnmp.VarBind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.find(vb.Name)
	if i < 0 {
		return &nsnmp.SnmpError{Status: nsnmp.CommitFailed}
	}
	p.entries[i].prior = p.entries[i].value
	p.entries[i].value = vb.Value
	return nil
}

func (p *MemoryProvider) Undo(vb nsnmp.VarBind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.find(vb.Name)
	if i < 0 {
		return &nsnmp.SnmpError{Status: nsnmp.UndoFailed}
	}
	p.entries[i].value = p.entries[i].prior
	return nil
}

// Registry is an ordered collection of Providers, queried in registration
// order for Get, and merged for NextOID/Walk (§5 "C8 Provider Registry").
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p, after any already-registered providers.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Get returns the first registered provider's exact match for oid.
func (r *Registry) Get(oid nsnmp.OID) (nsnmp.Asn1BER, interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if !p.CanHandle(oid) {
			continue
		}
		if tag, value, ok := p.Get(oid); ok {
			return tag, value, true
		}
	}
	return 0, nil, false
}

// NextOID returns the lexicographically smallest OID greater than oid
// across every registered provider (§4.5 "find the next OID visible to the
// requester in any registered provider").
func (r *Registry) NextOID(oid nsnmp.OID) (nsnmp.OID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best nsnmp.OID
	found := false
	for _, p := range r.providers {
		candidate, ok := p.NextOID(oid)
		if !ok {
			continue
		}
		if !found || candidate.Less(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// providerFor returns the first registered provider whose domain contains
// oid, for routing Validate/Commit/Undo during a SetRequest.
func (r *Registry) providerFor(oid nsnmp.OID) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.CanHandle(oid) {
			return p
		}
	}
	return nil
}

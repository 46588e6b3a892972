// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// No example in the retrieved pack implements VACM; this package follows
// RFC 3415's selection rules directly, written in the teacher's map-table
// style (flat structs, explicit lock-guarded registries) used throughout
// nsnmp's own User/UserTable.

// Package vacm implements the View-based Access Control Model (RFC 3415):
// per-varbind read/write/notify decisions driven by SecurityToGroup, View,
// and AccessEntry tables.
package vacm

import (
	"sync"

	nsnmp "github.com/johmnym/nSNMP-sub000"
)

// ViewType is the access a request is asking VACM to authorize for a
// varbind.
type ViewType int

const (
	Read ViewType = iota
	Write
	Notify
)

// SecurityLevel mirrors nsnmp.SecurityLevel's ordering (noAuthNoPriv <
// authNoPriv < authPriv) for the "securityLevel must be <= stored level"
// comparison in AccessEntry selection.
type SecurityLevel = nsnmp.SecurityLevel

// ViewEntry is one (subtree, mask, include|exclude) rule within a named
// view (§4.6 "View").
type ViewEntry struct {
	Subtree nsnmp.OID
	Mask    []bool // per sub-identifier; true = must match exactly, false = wildcard
	Include bool
}

// matches reports whether oid falls under e.Subtree per e.Mask, and the
// number of subtree sub-identifiers the mask requires to match exactly (used
// to break ties between overlapping view entries by specificity). Subtree
// sub-identifiers past the end of e.Mask must match exactly.
func (e ViewEntry) matches(oid nsnmp.OID) (ok bool, specificity int) {
	if len(oid) < len(e.Subtree) {
		return false, 0
	}
	for i, s := range e.Subtree {
		masked := true
		if i < len(e.Mask) {
			masked = e.Mask[i]
		}
		if masked {
			if oid[i] != s {
				return false, 0
			}
			specificity++
		}
	}
	return true, specificity
}

// AccessEntry grants readView/writeView/notifyView names to a group within
// a context, for a given security model and minimum security level
// (§4.6 "AccessEntry").
type AccessEntry struct {
	GroupName     string
	ContextPrefix string
	SecurityModel int32
	SecurityLevel SecurityLevel

	ReadView   string
	WriteView  string
	NotifyView string
}

// securityToGroupKey is (securityModel, securityName).
type securityToGroupKey struct {
	securityModel int32
	securityName  string
}

// VACM holds the group/view/access tables for one agent and evaluates
// access decisions against them (§4.6).
type VACM struct {
	mu sync.RWMutex

	groups  map[securityToGroupKey]string
	views   map[string][]ViewEntry
	entries []AccessEntry
}

// New constructs an empty VACM with no permissions granted until
// configured.
func New() *VACM {
	return &VACM{
		groups: make(map[securityToGroupKey]string),
		views:  make(map[string][]ViewEntry),
	}
}

// SetSecurityToGroup registers (securityModel, securityName) -> groupName.
func (v *VACM) SetSecurityToGroup(securityModel int32, securityName, groupName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.groups[securityToGroupKey{securityModel, securityName}] = groupName
}

// AddViewEntry appends entry to the named view.
func (v *VACM) AddViewEntry(viewName string, entry ViewEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[viewName] = append(v.views[viewName], entry)
}

// AddAccessEntry registers an access tuple.
func (v *VACM) AddAccessEntry(entry AccessEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, entry)
}

// Check implements the RFC 3415 decision function for a single varbind
// (§4.6, P9: depends only on these six inputs and the configured tables).
func (v *VACM) Check(securityModel int32, securityName string, securityLevel SecurityLevel, contextName string, viewType ViewType, oid nsnmp.OID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	groupName, ok := v.groups[securityToGroupKey{securityModel, securityName}]
	if !ok {
		return false
	}

	entry, ok := v.selectAccessEntry(groupName, contextName, securityModel, securityLevel)
	if !ok {
		return false
	}

	viewName := entry.ReadView
	switch viewType {
	case Write:
		viewName = entry.WriteView
	case Notify:
		viewName = entry.NotifyView
	}
	if viewName == "" {
		return false
	}

	return v.checkView(viewName, oid)
}

// selectAccessEntry applies RFC 3415's selection rules: exact contextName
// match preferred over a prefix match, longest contextPrefix wins among
// prefix matches, exact securityModel preferred over "any" (0), and the
// entry's securityLevel must be <= the request's securityLevel.
func (v *VACM) selectAccessEntry(groupName, contextName string, securityModel int32, level SecurityLevel) (AccessEntry, bool) {
	var best AccessEntry
	var bestScore = -1
	found := false

	for _, e := range v.entries {
		if e.GroupName != groupName {
			continue
		}
		if e.SecurityModel != 0 && e.SecurityModel != securityModel {
			continue
		}
		if e.SecurityLevel > level {
			continue
		}
		if len(e.ContextPrefix) > len(contextName) {
			continue
		}
		if contextName[:len(e.ContextPrefix)] != e.ContextPrefix {
			continue
		}

		score := len(e.ContextPrefix) * 4
		if e.ContextPrefix == contextName {
			score += 2
		}
		if e.SecurityModel == securityModel {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = e
			found = true
		}
	}
	return best, found
}

// checkView finds the most specific matching entry in viewName and returns
// its include/exclude verdict; no match at all is Deny (§4.6 step 4).
func (v *VACM) checkView(viewName string, oid nsnmp.OID) bool {
	entries := v.views[viewName]
	var winner *ViewEntry
	bestSpecificity := -1
	for i := range entries {
		ok, specificity := entries[i].matches(oid)
		if !ok {
			continue
		}
		if specificity > bestSpecificity {
			bestSpecificity = specificity
			winner = &entries[i]
		}
	}
	if winner == nil {
		return false
	}
	return winner.Include
}

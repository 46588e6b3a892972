// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// NewEngineID builds an RFC 3411-format snmpEngineID: 4 bytes of enterprise
// number with the first octet's high bit forced to 1 (signalling the
// enterprise-specific format), a format octet (0x05, "octets": an
// arbitrary locally-unique suffix), and the suffix itself (§4.4 "Engine
// State").
func NewEngineID(enterpriseNumber uint32, suffix []byte) []byte {
	id := make([]byte, 5+len(suffix))
	binary.BigEndian.PutUint32(id[0:4], enterpriseNumber)
	id[0] |= 0x80
	id[4] = 0x05
	copy(id[5:], suffix)
	return id
}

// Engine tracks the local copy of engineBoots/engineTime used to fill a v3
// message's authoritative fields and to validate a peer's timeliness
// (§4.4). A process restart calls NewEngine with the boots count persisted
// before the previous exit (NewEngine adds one); persisting that count is the caller's
// responsibility (§4.4 "Non-goals").
type Engine struct {
	ID    []byte
	Boots uint32

	startedAt time.Time
}

// NewEngine constructs an Engine. persistedBoots is the last engineBoots
// value the caller saved before its previous exit (0 if this is the first
// ever start); NewEngine increments it once, matching "engineBoots... is
// incremented each time the local engine restarts" (§4.4, P8).
func NewEngine(id []byte, persistedBoots uint32) *Engine {
	boots := persistedBoots + 1
	if boots > 2147483647 {
		boots = 2147483647 // latching ceiling (RFC 3414 §2.2.2)
	}
	return &Engine{ID: id, Boots: boots, startedAt: time.Now()}
}

// Time returns the current engineTime: seconds elapsed since this Engine
// was constructed, saturating at the ceiling used for Boots.
func (e *Engine) Time() uint32 {
	secs := time.Since(e.startedAt).Seconds()
	if secs >= 2147483647 {
		return 2147483647
	}
	return uint32(secs)
}

// WithinTimeWindow reports whether a message claiming the given
// engineBoots/engineTime falls inside the timeliness window relative to
// e's current state (§4.3 "Timeliness", §4.4 invariants).
func (e *Engine) WithinTimeWindow(peerBoots, peerTime uint32, window time.Duration) bool {
	if e.Boots >= 2147483647 {
		return false
	}
	if peerBoots != e.Boots {
		return false
	}
	now := int64(e.Time())
	diff := now - int64(peerTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(window.Seconds())
}

// IDString renders the engine ID the conventional "0x..." hex form used in
// log messages.
func IDString(id []byte) string {
	return "0x" + hex.EncodeToString(id)
}

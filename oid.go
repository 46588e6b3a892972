// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an immutable ordered sequence of sub-identifiers identifying a
// managed object. Every OID has length >= 2, with sub-id[0] in {0,1,2} and,
// when sub-id[0] is 0 or 1, sub-id[1] < 40 (see RFC 2578 and the BER OID
// encoding rule that folds the first two arcs into one byte).
type OID []uint32

// ParseOID parses a dotted-decimal string such as "1.3.6.1.2.1.1.1.0" (a
// leading dot is tolerated) into an OID, validating the well-formedness
// rules above.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return nil, fmt.Errorf("nsnmp: empty OID")
	}
	parts := strings.Split(s, ".")
	oid := make(OID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("nsnmp: malformed OID %q: %w", s, err)
		}
		oid[i] = uint32(n)
	}
	if err := oid.Validate(); err != nil {
		return nil, err
	}
	return oid, nil
}

// MustParseOID is ParseOID for compile-time-known OIDs; it panics on error
// and is meant for package-level var initializers.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// Validate reports whether o satisfies the OID well-formedness invariants.
func (o OID) Validate() error {
	if len(o) < 2 {
		return fmt.Errorf("nsnmp: OID %s has fewer than 2 sub-identifiers", o)
	}
	if o[0] > 2 {
		return fmt.Errorf("nsnmp: OID %s: first sub-identifier must be 0, 1 or 2", o)
	}
	if o[0] < 2 && o[1] >= 40 {
		return fmt.Errorf("nsnmp: OID %s: second sub-identifier must be < 40 when the first is 0 or 1", o)
	}
	return nil
}

// String renders o in dotted-decimal form, e.g. "1.3.6.1.2.1.1.1.0".
func (o OID) String() string {
	var b strings.Builder
	for i, v := range o {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// Clone returns a deep copy of o.
func (o OID) Clone() OID {
	c := make(OID, len(o))
	copy(c, o)
	return c
}

// Equal reports whether o and other name the same object.
func (o OID) Equal(other OID) bool {
	return o.Compare(other) == 0
}

// Compare performs an element-wise numeric comparison; a shorter OID that is
// a prefix of a longer one compares as less than it. It returns a negative
// number, zero, or a positive number as o is less than, equal to, or
// greater than other (consistent with the total order required by P4).
func (o OID) Compare(other OID) int {
	for i := 0; i < len(o) && i < len(other); i++ {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	default:
		return 0
	}
}

// Less reports whether o sorts strictly before other.
func (o OID) Less(other OID) bool {
	return o.Compare(other) < 0
}

// IsPrefixOf reports whether o is a (non-strict) prefix of other: every
// sub-identifier of o matches the corresponding sub-identifier of other.
func (o OID) IsPrefixOf(other OID) bool {
	if len(o) > len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// Concat returns a new OID formed by appending suffix to o.
func (o OID) Concat(suffix ...uint32) OID {
	out := make(OID, 0, len(o)+len(suffix))
	out = append(out, o...)
	out = append(out, suffix...)
	return out
}

// NextSibling returns the lexicographically next OID at the same depth:
// the last sub-identifier incremented by one. It is used by GetNext/GetBulk
// walkers to step past a subtree without descending into it.
func (o OID) NextSibling() OID {
	next := o.Clone()
	next[len(next)-1]++
	return next
}

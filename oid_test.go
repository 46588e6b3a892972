// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOID(t *testing.T) {
	cases := []struct {
		in   string
		want OID
	}{
		{"1.3.6.1.2.1.1.1.0", OID{1, 3, 6, 1, 2, 1, 1, 1, 0}},
		{".1.3.6.1", OID{1, 3, 6, 1}},
		{"0.0", OID{0, 0}},
		{"2.999.1", OID{2, 999, 1}},
	}
	for _, c := range cases {
		got, err := ParseOID(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseOIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"1",
		"3.1",
		"1.40",
		"0.40",
		"1.2.x",
	}
	for _, in := range cases {
		_, err := ParseOID(in)
		assert.Error(t, err, "ParseOID(%q)", in)
	}
}

func TestOIDString(t *testing.T) {
	oid := MustParseOID("1.3.6.1.2.1.1.1.0")
	assert.Equal(t, "1.3.6.1.2.1.1.1.0", oid.String())
}

func TestOIDCompareAndPrefix(t *testing.T) {
	sys := MustParseOID("1.3.6.1.2.1.1")
	sysDescr := MustParseOID("1.3.6.1.2.1.1.1.0")
	ifTable := MustParseOID("1.3.6.1.2.1.2")

	assert.True(t, sys.IsPrefixOf(sysDescr))
	assert.False(t, sysDescr.IsPrefixOf(sys))
	assert.True(t, sys.Less(sysDescr), "a prefix sorts before its extension")
	assert.True(t, sysDescr.Less(ifTable))
	assert.True(t, sys.Compare(sys) == 0)
}

func TestOIDNextSiblingSkipsSubtree(t *testing.T) {
	root := MustParseOID("1.3.6.1.2.1.1")
	sibling := root.NextSibling()
	assert.False(t, root.IsPrefixOf(sibling))
	assert.True(t, root.Less(sibling))
}

func TestOIDConcat(t *testing.T) {
	root := MustParseOID("1.3.6.1.2.1.1.1")
	instance := root.Concat(0)
	assert.Equal(t, "1.3.6.1.2.1.1.1.0", instance.String())
}

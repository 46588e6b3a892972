// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePDU() *PDU {
	return &PDU{
		Type:      GetRequest,
		RequestID: 12345,
		VarBinds: []VarBind{
			NewVarBind(MustParseOID("1.3.6.1.2.1.1.1.0"), NullType, nil),
		},
	}
}

func TestEncodeDecodeCommunityMessageRoundTrip(t *testing.T) {
	pdu := samplePDU()
	data, err := EncodeCommunityMessage(Version2c, "public", pdu)
	require.NoError(t, err)

	msg, err := DecodeCommunityMessage(data)
	require.NoError(t, err)
	assert.Equal(t, Version2c, msg.Version)
	assert.Equal(t, "public", msg.Community)
	if diff := cmp.Diff(pdu, msg.PDU); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMessageDispatchesByVersion(t *testing.T) {
	pdu := samplePDU()
	data, err := EncodeCommunityMessage(Version1, "public", pdu)
	require.NoError(t, err)

	msg, err := DecodeMessage(data, nil)
	require.NoError(t, err)
	assert.Equal(t, Version1, msg.Version)
}

func noAuthV3Opts() V3EncodeOptions {
	return V3EncodeOptions{
		MsgID:           1,
		MaxSize:         1472,
		Reportable:      true,
		ContextEngineID: "engine-id-bytes",
		ContextName:     "",
		EngineID:        "engine-id-bytes",
		EngineBoots:     1,
		EngineTime:      100,
	}
}

func TestEncodeDecodeV3MessageNoAuthNoPriv(t *testing.T) {
	pdu := samplePDU()
	opts := noAuthV3Opts()

	data, sp, err := EncodeV3Message(opts, pdu)
	require.NoError(t, err)
	assert.Equal(t, "engine-id-bytes", sp.AuthoritativeEngineID)

	msg, err := DecodeV3Message(data, nil)
	require.NoError(t, err)
	assert.Equal(t, Version3, msg.Version)
	assert.Equal(t, uint32(1), msg.V3Header.MsgID)
	if diff := cmp.Diff(pdu, msg.PDU); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeV3MessageAuthNoPriv(t *testing.T) {
	user := NewUser("alice", SHA256, "authenticationpassword", NoPriv, "")
	users := NewUserTable()
	users.Add(user)
	lookup := func(name string) (*User, error) {
		u, _ := users.Lookup(name)
		return u, nil
	}

	pdu := samplePDU()
	opts := noAuthV3Opts()
	opts.User = user
	opts.SecurityLevel = AuthNoPriv

	data, sp, err := EncodeV3Message(opts, pdu)
	require.NoError(t, err)
	assert.Len(t, sp.AuthenticationParameters, 12)

	msg, err := DecodeV3Message(data, lookup)
	require.NoError(t, err)
	if diff := cmp.Diff(pdu, msg.PDU); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeV3MessageAuthPriv(t *testing.T) {
	user := NewUser("bob", SHA1, "authenticationpassword", AES128, "privacypassword")
	users := NewUserTable()
	users.Add(user)
	lookup := func(name string) (*User, error) {
		u, _ := users.Lookup(name)
		return u, nil
	}

	pdu := samplePDU()
	opts := noAuthV3Opts()
	opts.User = user
	opts.SecurityLevel = AuthPriv

	data, _, err := EncodeV3Message(opts, pdu)
	require.NoError(t, err)

	msg, err := DecodeV3Message(data, lookup)
	require.NoError(t, err)
	if diff := cmp.Diff(pdu, msg.PDU); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeV3MessageRejectsTamperedAuthenticatedMessage(t *testing.T) {
	user := NewUser("alice", SHA256, "authenticationpassword", NoPriv, "")
	users := NewUserTable()
	users.Add(user)
	lookup := func(name string) (*User, error) {
		u, _ := users.Lookup(name)
		return u, nil
	}

	pdu := samplePDU()
	opts := noAuthV3Opts()
	opts.User = user
	opts.SecurityLevel = AuthNoPriv

	data, _, err := EncodeV3Message(opts, pdu)
	require.NoError(t, err)

	tampered := append([]byte{}, data...)
	tampered[len(tampered)-1] ^= 0xff

	_, err = DecodeV3Message(tampered, lookup)
	require.Error(t, err)
	secErr, ok := err.(*SecurityError)
	require.True(t, ok, "expected *SecurityError, got %T", err)
	assert.Equal(t, OIDUsmStatsWrongDigests, secErr.ReportOID)
}

func TestDecodeV3MessageRejectsUnknownUser(t *testing.T) {
	user := NewUser("alice", SHA256, "authenticationpassword", NoPriv, "")

	pdu := samplePDU()
	opts := noAuthV3Opts()
	opts.User = user
	opts.SecurityLevel = AuthNoPriv

	data, _, err := EncodeV3Message(opts, pdu)
	require.NoError(t, err)

	noUser := func(name string) (*User, error) { return nil, nil }
	_, err = DecodeV3Message(data, noUser)
	require.Error(t, err)
	secErr, ok := err.(*SecurityError)
	require.True(t, ok, "expected *SecurityError, got %T", err)
	assert.Equal(t, OIDUsmStatsUnknownUserNames, secErr.ReportOID)
}

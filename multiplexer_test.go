// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackTransport(t *testing.T) *Transport {
	t.Helper()
	transport, err := ListenUDP("127.0.0.1:0", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func TestMultiplexerSendAndAwaitRoundTrip(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)
	mux := NewMultiplexer(client, nil, nil)
	go func() { _ = mux.Run() }()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		data, peer, err := server.ReceiveFrom(time.Now().Add(2 * time.Second))
		if err != nil {
			return
		}
		msg, err := DecodeCommunityMessage(data)
		if err != nil {
			return
		}
		resp := &PDU{Type: GetResponse, RequestID: msg.PDU.RequestID, VarBinds: msg.PDU.VarBinds}
		out, err := EncodeCommunityMessage(Version2c, "public", resp)
		if err != nil {
			return
		}
		_ = server.SendTo(peer, out)
	}()

	reqID := mux.NextID()
	pdu := &PDU{Type: GetRequest, RequestID: reqID, VarBinds: []VarBind{
		NewVarBind(MustParseOID("1.3.6.1.2.1.1.1.0"), NullType, nil),
	}}
	data, err := EncodeCommunityMessage(Version2c, "public", pdu)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := mux.SendAndAwait(ctx, server.LocalAddr(), reqID, data)
	require.NoError(t, err)
	require.Equal(t, reqID, resp.PDU.RequestID)

	<-serverDone
}

func TestMultiplexerSendAndAwaitTimesOut(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)
	mux := NewMultiplexer(client, nil, nil)
	go func() { _ = mux.Run() }()

	reqID := mux.NextID()
	pdu := &PDU{Type: GetRequest, RequestID: reqID}
	data, err := EncodeCommunityMessage(Version2c, "public", pdu)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = mux.SendAndAwait(ctx, server.LocalAddr(), reqID, data)
	require.Error(t, err)
	_, ok := err.(*TimeoutError)
	require.True(t, ok, "expected *TimeoutError, got %T", err)
}

func TestMultiplexerDispatchDropsUnmatchedResponse(t *testing.T) {
	client := newLoopbackTransport(t)
	mux := NewMultiplexer(client, nil, nil)

	pdu := &PDU{Type: GetResponse, RequestID: 999}
	data, err := EncodeCommunityMessage(Version2c, "public", pdu)
	require.NoError(t, err)

	peer, err := net.ResolveUDPAddr("udp", "127.0.0.1:1")
	require.NoError(t, err)

	require.NotPanics(t, func() { mux.Dispatch(data, peer) })
}

// TestMultiplexerSendAndAwaitCompletesOnSecurityError exercises §4.4's
// rule that a reply failing security processing (here: an unknown USM
// user) still resolves the waiting caller with that error, rather than
// leaving it to time out.
func TestMultiplexerSendAndAwaitCompletesOnSecurityError(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)
	lookupUser := func(name string) (*User, error) { return nil, nil }
	mux := NewMultiplexer(client, lookupUser, nil)
	go func() { _ = mux.Run() }()

	engine := NewEngine(NewEngineID(99999, []byte("agent1")), 0)
	msgID := uint32(mux.NextID())

	go func() {
		data, peer, err := server.ReceiveFrom(time.Now().Add(2 * time.Second))
		if err != nil {
			return
		}
		req, err := DecodeV3Message(data, nil)
		if err != nil {
			return
		}
		resp := &PDU{Type: GetResponse, RequestID: req.PDU.RequestID}
		opts := V3EncodeOptions{
			MsgID:         msgID,
			EngineID:      string(engine.ID),
			EngineBoots:   engine.Boots,
			EngineTime:    engine.Time(),
			User:          NewUser("someone", SHA256, "authenticationpassword", NoPriv, ""),
			SecurityLevel: AuthNoPriv,
		}
		out, _, err := EncodeV3Message(opts, resp)
		if err != nil {
			return
		}
		_ = server.SendTo(peer, out)
	}()

	pdu := &PDU{Type: GetRequest, RequestID: int32(msgID)}
	data, _, err := EncodeV3Message(V3EncodeOptions{MsgID: msgID, SecurityLevel: NoAuthNoPriv}, pdu)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = mux.SendAndAwait(ctx, server.LocalAddr(), int32(msgID), data)
	require.Error(t, err)
	secErr, ok := err.(*SecurityError)
	require.True(t, ok, "expected *SecurityError, got %T", err)
	require.Equal(t, OIDUsmStatsUnknownUserNames, secErr.ReportOID)
}

func TestMessageCorrelationIDUsesMsgIDForV3(t *testing.T) {
	msg := &Message{Version: Version3, V3Header: V3Header{MsgID: 42}}
	require.Equal(t, int32(42), messageCorrelationID(msg))

	msg2 := &Message{Version: Version2c, PDU: &PDU{RequestID: 7}}
	require.Equal(t, int32(7), messageCorrelationID(msg2))
}

// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAddr is a minimal net.Addr for use with MockPacketConn expectations.
type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

func TestTransportSendToWrapsWriteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	peer := fakeAddr("192.0.2.1:161")
	writeErr := errors.New("network is unreachable")
	conn.EXPECT().WriteTo([]byte("payload"), peer).Return(0, writeErr)

	transport := NewTransport(conn, 0, nil)
	err := transport.SendTo(peer, []byte("payload"))
	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "write", te.Op)
	assert.ErrorIs(t, err, writeErr)
}

func TestTransportSendToSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	peer := fakeAddr("192.0.2.1:161")
	conn.EXPECT().WriteTo([]byte("payload"), peer).Return(len("payload"), nil)

	transport := NewTransport(conn, 0, nil)
	require.NoError(t, transport.SendTo(peer, []byte("payload")))
}

func TestTransportReceiveFromSetsDeadlineAndWrapsReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	deadline := time.Now().Add(time.Second)
	readErr := errors.New("i/o timeout")

	gomock.InOrder(
		conn.EXPECT().SetReadDeadline(deadline).Return(nil),
		conn.EXPECT().ReadFrom(gomock.Any()).Return(0, nil, readErr),
	)

	transport := NewTransport(conn, 0, nil)
	_, _, err := transport.ReceiveFrom(deadline)
	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "read", te.Op)
}

func TestTransportReceiveFromReturnsPeerAndPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	peer := fakeAddr("192.0.2.1:161")

	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(p []byte) (int, net.Addr, error) {
		n := copy(p, []byte("hello"))
		return n, peer, nil
	})

	transport := NewTransport(conn, 0, nil)
	data, from, err := transport.ReceiveFrom(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, peer, from)
}

func TestTransportCloseClosesUnderlyingConn(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	conn.EXPECT().Close().Return(nil)

	transport := NewTransport(conn, 0, nil)
	require.NoError(t, transport.Close())
}

func TestTransportLocalAddrDelegates(t *testing.T) {
	ctrl := gomock.NewController(t)
	conn := NewMockPacketConn(ctrl)
	addr := fakeAddr("0.0.0.0:161")
	conn.EXPECT().LocalAddr().Return(addr)

	transport := NewTransport(conn, 0, nil)
	assert.Equal(t, addr, transport.LocalAddr())
}

// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Grounded on the teacher's connection-handling in gosnmp.go (Conn field of
// type net.Conn, Connect()/Close() methods) - generalized from gosnmp's
// connected-UDP client socket to a net.PacketConn so the same type serves
// both the manager (one outstanding conn per agent) and the agent listener
// (one conn fielding many peers).

package nsnmp

import (
	"net"
	"strings"
	"time"
)

// DefaultReceiveBufferSize is the default UDP read buffer size (§5 "C4
// Transport").
const DefaultReceiveBufferSize = 65536

// Transport is a connectionless UDP datagram endpoint shared by the
// manager's multiplexer and the agent's dispatcher.
type Transport struct {
	conn       net.PacketConn
	bufferSize int
	log        Logger
}

// NewTransport wraps an already-bound net.PacketConn (as returned by
// net.ListenPacket or net.ListenUDP).
func NewTransport(conn net.PacketConn, bufferSize int, log Logger) *Transport {
	if bufferSize <= 0 {
		bufferSize = DefaultReceiveBufferSize
	}
	return &Transport{conn: conn, bufferSize: bufferSize, log: logOf(log)}
}

// ListenUDP opens a UDP socket bound to addr (e.g. ":161", "0.0.0.0:0" for
// an ephemeral client port).
func ListenUDP(addr string, bufferSize int, log Logger) (*Transport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err}
	}
	return NewTransport(conn, bufferSize, log), nil
}

// LocalAddr returns the transport's bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// SendTo writes a single UDP datagram to peer.
func (t *Transport) SendTo(peer net.Addr, data []byte) error {
	_, err := t.conn.WriteTo(data, peer)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// ReceiveFrom blocks (up to deadline, if non-zero) for the next datagram. It
// returns the peer address and the datagram bytes (owned by the caller, not
// reused by the next call).
func (t *Transport) ReceiveFrom(deadline time.Time) ([]byte, net.Addr, error) {
	if !deadline.IsZero() {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &TransportError{Op: "set-deadline", Err: err}
		}
	}
	buf := make([]byte, t.bufferSize)
	n, peer, err := t.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, &TransportError{Op: "read", Err: err}
	}
	return buf[:n], peer, nil
}

// Serve runs handle for every datagram received until Close is called; any
// other read error is logged and the loop goes on. It is the agent
// dispatcher's and the trap receiver's listen loop (§5 "C4 Transport", §5 "C8 Agent Dispatcher").
func (t *Transport) Serve(handle func(data []byte, peer net.Addr)) error {
	for {
		data, peer, err := t.ReceiveFrom(time.Time{})
		if err != nil {
			if isClosedConnError(err) {
				return nil
			}
			t.log.Printf("nsnmp: transport read error: %v", err)
			continue
		}
		handle(data, peer)
	}
}

func isClosedConnError(err error) bool {
	var te *TransportError
	if e, ok := err.(*TransportError); ok {
		te = e
	} else {
		return false
	}
	return te.Err != nil && strings.Contains(te.Err.Error(), "use of closed network connection")
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

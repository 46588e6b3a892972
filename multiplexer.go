// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Grounded on the teacher's gosnmp.go request/response loop (send, then
// read until the response's request-id matches) generalized into an
// explicit correlation table so multiple outstanding requests can share one
// socket (§5 "C5 Request Multiplexer").

package nsnmp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// pendingKey correlates an outstanding request to its response: (peer,
// request-id) for v1/v2c, (peer, msg-id) for v3 (§5 "C5").
type pendingKey struct {
	peer string
	id   int32
}

// pendingResult is what completes a pendingRequest: either the decoded
// response message, or the error a failed decode/security-check produced
// for it (§4.4, "a failed auth still completes the entry with an error").
type pendingResult struct {
	msg *Message
	err error
}

type pendingRequest struct {
	replies chan pendingResult
}

// Multiplexer demultiplexes datagrams read from a shared Transport to the
// goroutine awaiting each outstanding request, by (peer, id).
type Multiplexer struct {
	transport *Transport
	log       Logger

	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest

	nextID int32

	lookupUser func(userName string) (*User, error)
}

// NewMultiplexer constructs a Multiplexer over transport. lookupUser
// resolves USM users named in incoming v3 messages; it may be nil if this
// multiplexer only ever speaks v1/v2c.
func NewMultiplexer(transport *Transport, lookupUser func(userName string) (*User, error), log Logger) *Multiplexer {
	return &Multiplexer{
		transport:  transport,
		log:        logOf(log),
		pending:    make(map[pendingKey]*pendingRequest),
		lookupUser: lookupUser,
	}
}

// NextID returns a fresh request/message ID (wrapping int32, as request-id
// and msg-id are both signed 32-bit fields on the wire).
func (m *Multiplexer) NextID() int32 {
	return atomic.AddInt32(&m.nextID, 1)
}

// SendAndAwait sends data to peer, registers a correlation entry for id,
// and blocks until a matching response arrives, ctx is done, or deadline
// passes via ctx. A response whose (peer, id) does not match any pending
// entry is logged and discarded, not delivered anywhere (§5 "C5" duplicate/
// unmatched handling).
func (m *Multiplexer) SendAndAwait(ctx context.Context, peer net.Addr, id int32, data []byte) (*Message, error) {
	key := pendingKey{peer: peer.String(), id: id}
	req := &pendingRequest{replies: make(chan pendingResult, 1)}

	m.mu.Lock()
	m.pending[key] = req
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
	}()

	if err := m.transport.SendTo(peer, data); err != nil {
		return nil, err
	}

	select {
	case res := <-req.replies:
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-ctx.Done():
		return nil, &TimeoutError{Peer: peer.String(), RequestID: id}
	}
}

// Dispatch decodes one incoming datagram and routes it to its waiting
// caller, if any. It is the function a manager's read loop calls for every
// datagram ReceiveFrom returns. A message that fails security processing
// (wrong digest, unknown user, decryption failure) still completes its
// pending entry with that error, rather than being silently dropped, as
// long as enough of the message decoded to recover its correlation ID
// (§4.4).
func (m *Multiplexer) Dispatch(data []byte, peer net.Addr) {
	msg, err := DecodeMessage(data, m.lookupUser)
	if err != nil {
		secErr, ok := err.(*SecurityError)
		if !ok || msg == nil {
			m.log.Printf("nsnmp: multiplexer: dropping undecodable datagram from %s: %v", peer, err)
			return
		}
		m.complete(peer, messageCorrelationID(msg), pendingResult{err: secErr})
		return
	}
	m.complete(peer, messageCorrelationID(msg), pendingResult{msg: msg})
}

// complete resolves the pending entry for (peer, id), if any; a result for
// an id with no waiting caller (unmatched response, or a duplicate) is
// logged and discarded.
func (m *Multiplexer) complete(peer net.Addr, id int32, res pendingResult) {
	key := pendingKey{peer: peer.String(), id: id}

	m.mu.Lock()
	req, ok := m.pending[key]
	m.mu.Unlock()
	if !ok {
		m.log.Printf("nsnmp: multiplexer: no pending request for %s id=%d, discarding", peer, id)
		return
	}
	select {
	case req.replies <- res:
	default:
		// a response for this key already arrived; this is a duplicate.
	}
}

// Run drives m.Dispatch off transport's read loop until the transport is
// closed.
func (m *Multiplexer) Run() error {
	return m.transport.Serve(m.Dispatch)
}

func messageCorrelationID(msg *Message) int32 {
	if msg.Version == Version3 {
		return int32(msg.V3Header.MsgID)
	}
	return msg.PDU.RequestID
}

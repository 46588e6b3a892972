// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Thin convenience wrappers over nsnmp.Client.SendTrap/SendInform; kept as
// their own package (rather than folded into the root package) because a
// trap originator commonly runs in a process that is otherwise a pure
// agent, with no manager Client of its own (§5 "C10 Trap/Notify Support").

// Package trap builds and sends SNMP traps/informs, and runs a filtering
// trap/inform receiver.
package trap

import (
	"time"

	nsnmp "github.com/johmnym/nSNMP-sub000"
)

// Sender addresses a single trap/inform destination.
type Sender struct {
	client *nsnmp.Client
}

// NewSender wraps an already-configured Client pointed at the trap
// destination (conventionally UDP port 162).
func NewSender(client *nsnmp.Client) *Sender {
	return &Sender{client: client}
}

// Trap fires an unacknowledged notification.
func (s *Sender) Trap(uptime time.Duration, trapOID nsnmp.OID, vbs ...nsnmp.VarBind) error {
	return s.client.SendTrap(centiseconds(uptime), trapOID, vbs...)
}

// Inform fires a notification and blocks until the receiver acknowledges
// it (or the client's Timeout expires; an inform is not retransmitted).
func (s *Sender) Inform(uptime time.Duration, trapOID nsnmp.OID, vbs ...nsnmp.VarBind) error {
	return s.client.SendInform(centiseconds(uptime), trapOID, vbs...)
}

func centiseconds(d time.Duration) uint32 {
	return uint32(d / (10 * time.Millisecond))
}

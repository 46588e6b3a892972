// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// ReceiverConfig's shape (allowed versions/communities/source CIDRs, bind
// address) is grounded on
// other_examples/0e373a42_DataDog-datadog-agent__pkg-snmp-traps-config-config.go's
// traps listener config. Instead of datadog's hostname-hash engineID, the
// listener uses the caller-supplied ReceiverConfig.Engine (whose ID
// nsnmp.NewEngineID builds from an enterprise number + local identifier),
// since engine state is this library's own first-class component (§4.4),
// not an externally inferred value.

package trap

import (
	"net"
	"sync/atomic"

	nsnmp "github.com/johmnym/nSNMP-sub000"
)

// ReceiverConfig configures a trap/inform listener's acceptance filters
// (§5 "C10").
type ReceiverConfig struct {
	BindAddr           string
	AllowedVersions    []nsnmp.SnmpVersion
	AllowedCommunities []string
	AllowedSources     []*net.IPNet

	Users  *nsnmp.UserTable
	Engine *nsnmp.Engine

	Logger nsnmp.Logger
}

// Notification is one accepted trap or inform, handed to a Receiver's
// callback.
type Notification struct {
	Peer net.Addr
	PDU  *nsnmp.PDU
}

// Receiver listens for and filters incoming traps/informs, acknowledging
// InformRequests and counting rejections.
type Receiver struct {
	cfg       ReceiverConfig
	transport *nsnmp.Transport

	rejected uint64
}

// NewReceiver binds cfg.BindAddr (conventionally ":162") and constructs a
// Receiver.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	transport, err := nsnmp.ListenUDP(cfg.BindAddr, 0, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, transport: transport}, nil
}

// RejectedCount returns the number of datagrams dropped since the Receiver
// was created, either because they failed to decode or because a version,
// community, or source filter refused them.
func (r *Receiver) RejectedCount() uint64 {
	return atomic.LoadUint64(&r.rejected)
}

func (r *Receiver) lookupUser(name string) (*nsnmp.User, error) {
	if r.cfg.Users == nil {
		return nil, nil
	}
	u, _ := r.cfg.Users.Lookup(name)
	return u, nil
}

// Serve runs the receive loop, invoking handle for every accepted
// notification and sending an InformRequest's acknowledgement back to its
// sender.
func (r *Receiver) Serve(handle func(Notification)) error {
	return r.transport.Serve(func(data []byte, peer net.Addr) {
		if !r.sourceAllowed(peer) {
			atomic.AddUint64(&r.rejected, 1)
			return
		}
		msg, err := nsnmp.DecodeMessage(data, r.lookupUser)
		if err != nil {
			atomic.AddUint64(&r.rejected, 1)
			return
		}
		if !r.versionAllowed(msg.Version) {
			atomic.AddUint64(&r.rejected, 1)
			return
		}
		if msg.Version != nsnmp.Version3 && !r.communityAllowed(msg.Community) {
			atomic.AddUint64(&r.rejected, 1)
			return
		}

		handle(Notification{Peer: peer, PDU: msg.PDU})

		if msg.PDU.Type == nsnmp.InformRequest {
			r.acknowledge(peer, msg)
		}
	})
}

func (r *Receiver) acknowledge(peer net.Addr, msg *nsnmp.Message) {
	ack := &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: msg.PDU.RequestID, VarBinds: msg.PDU.VarBinds}
	switch msg.Version {
	case nsnmp.Version1, nsnmp.Version2c:
		data, err := nsnmp.EncodeCommunityMessage(msg.Version, msg.Community, ack)
		if err == nil {
			_ = r.transport.SendTo(peer, data)
		}
	case nsnmp.Version3:
		opts := nsnmp.V3EncodeOptions{
			MsgID:           msg.V3Header.MsgID,
			MaxSize:         1472,
			ContextEngineID: msg.ContextEngineID,
			ContextName:     msg.ContextName,
		}
		if r.cfg.Engine != nil {
			opts.EngineID = string(r.cfg.Engine.ID)
			opts.EngineBoots = r.cfg.Engine.Boots
			opts.EngineTime = r.cfg.Engine.Time()
		}
		if msg.SecurityParameters != nil {
			user, _ := r.lookupUser(msg.SecurityParameters.UserName)
			opts.User = user
		}
		data, _, err := nsnmp.EncodeV3Message(opts, ack)
		if err == nil {
			_ = r.transport.SendTo(peer, data)
		}
	}
}

func (r *Receiver) versionAllowed(v nsnmp.SnmpVersion) bool {
	if len(r.cfg.AllowedVersions) == 0 {
		return true
	}
	for _, allowed := range r.cfg.AllowedVersions {
		if allowed == v {
			return true
		}
	}
	return false
}

func (r *Receiver) communityAllowed(community string) bool {
	if len(r.cfg.AllowedCommunities) == 0 {
		return true
	}
	for _, allowed := range r.cfg.AllowedCommunities {
		if allowed == community {
			return true
		}
	}
	return false
}

func (r *Receiver) sourceAllowed(peer net.Addr) bool {
	if len(r.cfg.AllowedSources) == 0 {
		return true
	}
	udpAddr, ok := peer.(*net.UDPAddr)
	if !ok {
		return true
	}
	for _, cidr := range r.cfg.AllowedSources {
		if cidr.Contains(udpAddr.IP) {
			return true
		}
	}
	return false
}

// Close releases the receiver's socket.
func (r *Receiver) Close() error {
	return r.transport.Close()
}

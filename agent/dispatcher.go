// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Grounded on other_examples/ba5cc22a_Debashish-Mukherjee-go-snmpsim__internal-agent-agent.go's
// HandlePacket([]byte) []byte shape (decode, switch on PDU kind, per-kind
// handler, re-encode), generalized to nsnmp's own Message/PDU/USM/VACM
// types per spec.md §4.5.

package agent

import (
	"io"
	"log"
	"net"
	"time"

	nsnmp "github.com/johmnym/nSNMP-sub000"
	"github.com/johmnym/nSNMP-sub000/vacm"
)

// ServerConfig configures a Dispatcher (§5 "C7 Agent Dispatcher").
type ServerConfig struct {
	ReadCommunity  string
	WriteCommunity string

	Users  *nsnmp.UserTable
	Engine *nsnmp.Engine
	VACM   *vacm.VACM

	MaxResponseSize  int
	TimelinessWindow time.Duration
	Logger           nsnmp.Logger
}

func (c *ServerConfig) applyDefaults() {
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 1472
	}
	if c.TimelinessWindow == 0 {
		c.TimelinessWindow = 150 * time.Second
	}
}

// Dispatcher is the agent-side PDU router: it decodes an incoming
// datagram, validates community or USM credentials, consults VACM per
// varbind, invokes the Registry, and emits the response (§4.5).
type Dispatcher struct {
	cfg       ServerConfig
	registry  *Registry
	transport *nsnmp.Transport
}

// NewDispatcher constructs a Dispatcher serving registry's providers over
// transport.
func NewDispatcher(transport *nsnmp.Transport, registry *Registry, cfg ServerConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{cfg: cfg, registry: registry, transport: transport}
}

// Serve runs the dispatcher's receive loop until the transport is closed.
func (d *Dispatcher) Serve() error {
	return d.transport.Serve(d.handle)
}

func (d *Dispatcher) log() nsnmp.Logger {
	if d.cfg.Logger == nil {
		return nsnmp.NewLogger(log.New(io.Discard, "", 0))
	}
	return d.cfg.Logger
}

func (d *Dispatcher) lookupUser(name string) (*nsnmp.User, error) {
	if d.cfg.Users == nil {
		return nil, nil
	}
	u, _ := d.cfg.Users.Lookup(name)
	return u, nil
}

// handle is the Transport.Serve callback: one datagram in, zero-or-one
// datagram out.
func (d *Dispatcher) handle(data []byte, peer net.Addr) {
	msg, err := nsnmp.DecodeMessage(data, d.lookupUser)
	if err != nil {
		if secErr, ok := err.(*nsnmp.SecurityError); ok && msg != nil {
			d.sendReport(peer, msg.V3Header.MsgID, secErr.ReportOID)
			return
		}
		return
	}

	switch msg.Version {
	case nsnmp.Version1, nsnmp.Version2c:
		d.handleCommunity(peer, msg)
	case nsnmp.Version3:
		d.handleV3(peer, msg)
	}
}

func (d *Dispatcher) handleCommunity(peer net.Addr, msg *nsnmp.Message) {
	required := d.cfg.ReadCommunity
	if msg.PDU.Type == nsnmp.SetRequest {
		required = d.cfg.WriteCommunity
	}
	if required != "" && msg.Community != required {
		return
	}
	resp := d.process(msg, 0, msg.Community, nsnmp.NoAuthNoPriv, "", d.cfg.MaxResponseSize)
	if resp == nil {
		return
	}
	data, err := nsnmp.EncodeCommunityMessage(msg.Version, msg.Community, resp)
	if err != nil {
		d.log().Printf("nsnmp: agent: encoding response: %v", err)
		return
	}
	_ = d.transport.SendTo(peer, data)
}

func (d *Dispatcher) handleV3(peer net.Addr, msg *nsnmp.Message) {
	securityName := ""
	if msg.SecurityParameters != nil {
		securityName = msg.SecurityParameters.UserName
	}
	level := nsnmp.NoAuthNoPriv
	if msg.V3Header.Flags&nsnmp.FlagAuth != 0 {
		level = nsnmp.AuthNoPriv
	}
	if msg.V3Header.Flags&nsnmp.FlagPriv != 0 {
		level = nsnmp.AuthPriv
	}

	// Authoritative-side USM checks (§4.3 Report table), performed before
	// any request processing: an unknown engineID, a stale/future
	// engineTime, or a security level the user isn't configured for each
	// abort the request with a Report instead of an ordinary response.
	if d.cfg.Engine != nil && msg.SecurityParameters != nil {
		if msg.SecurityParameters.AuthoritativeEngineID != string(d.cfg.Engine.ID) {
			d.sendReport(peer, msg.V3Header.MsgID, nsnmp.OIDUsmStatsUnknownEngineIDs)
			return
		}
		if level >= nsnmp.AuthNoPriv && !d.cfg.Engine.WithinTimeWindow(
			msg.SecurityParameters.AuthoritativeEngineBoots,
			msg.SecurityParameters.AuthoritativeEngineTime,
			d.cfg.TimelinessWindow,
		) {
			d.sendReport(peer, msg.V3Header.MsgID, nsnmp.OIDUsmStatsNotInTimeWindows)
			return
		}
	}
	// A user's configured protocols fix the securityLevel it is provisioned
	// for; a request declaring any other level - weaker or stronger - is a
	// downgrade/mismatch, not a request this dispatcher will silently
	// reinterpret.
	user, _ := d.lookupUser(securityName)
	if user != nil && level != user.MaxSecurityLevel() {
		d.sendReport(peer, msg.V3Header.MsgID, nsnmp.OIDUsmStatsUnsupportedSecLevels)
		return
	}

	maxResponseSize := d.cfg.MaxResponseSize
	if msg.V3Header.MaxSize > 0 && int(msg.V3Header.MaxSize) < maxResponseSize {
		maxResponseSize = int(msg.V3Header.MaxSize)
	}

	resp := d.process(msg, nsnmp.UsmSecurityModel, securityName, level, msg.ContextName, maxResponseSize)
	if resp == nil {
		return
	}

	opts := nsnmp.V3EncodeOptions{
		MsgID:           msg.V3Header.MsgID,
		MaxSize:         uint32(d.cfg.MaxResponseSize),
		ContextEngineID: msg.ContextEngineID,
		ContextName:     msg.ContextName,
		User:            user,
		SecurityLevel:   level,
	}
	if d.cfg.Engine != nil {
		opts.EngineID = string(d.cfg.Engine.ID)
		opts.EngineBoots = d.cfg.Engine.Boots
		opts.EngineTime = d.cfg.Engine.Time()
	}
	data, _, err := nsnmp.EncodeV3Message(opts, resp)
	if err != nil {
		d.log().Printf("nsnmp: agent: encoding v3 response: %v", err)
		return
	}
	_ = d.transport.SendTo(peer, data)
}

// sendReport replies with an unauthenticated Report carrying reportOID,
// echoing msgID so the requester's Multiplexer entry (keyed on the msgID it
// assigned the original request) actually resolves instead of timing out
// (§4.3 Report table).
func (d *Dispatcher) sendReport(peer net.Addr, msgID uint32, reportOID nsnmp.OID) {
	if d.cfg.Engine == nil {
		return
	}
	pdu := &nsnmp.PDU{
		Type: nsnmp.ReportPDU,
		VarBinds: []nsnmp.VarBind{
			nsnmp.NewVarBind(reportOID, nsnmp.Counter32, uint32(1)),
		},
	}
	opts := nsnmp.V3EncodeOptions{
		MsgID:         msgID,
		EngineID:      string(d.cfg.Engine.ID),
		EngineBoots:   d.cfg.Engine.Boots,
		EngineTime:    d.cfg.Engine.Time(),
		SecurityLevel: nsnmp.NoAuthNoPriv,
	}
	data, _, err := nsnmp.EncodeV3Message(opts, pdu)
	if err != nil {
		return
	}
	_ = d.transport.SendTo(peer, data)
}

// process dispatches by PDU kind and returns the response PDU to send, or
// nil to send nothing (dropped request). maxResponseSize enforces §4.5
// "Response size limits" uniformly across every PDU kind that can produce
// a multi-varbind reply.
func (d *Dispatcher) process(msg *nsnmp.Message, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string, maxResponseSize int) *nsnmp.PDU {
	req := msg.PDU
	isV1 := msg.Version == nsnmp.Version1

	var resp *nsnmp.PDU
	switch req.Type {
	case nsnmp.GetRequest:
		resp = d.handleGet(req, isV1, securityModel, securityName, level, contextName)
	case nsnmp.GetNextRequest:
		resp = d.handleGetNext(req, isV1, securityModel, securityName, level, contextName)
	case nsnmp.GetBulkRequest:
		if isV1 {
			return &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID, ErrorStatus: nsnmp.GenErr, ErrorIndex: 1}
		}
		resp = d.handleGetBulk(req, securityModel, securityName, level, contextName)
	case nsnmp.SetRequest:
		resp = d.handleSet(req, isV1, securityModel, securityName, level, contextName)
	case nsnmp.InformRequest:
		resp = &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID, VarBinds: req.VarBinds}
	default:
		return nil
	}
	if resp != nil && maxResponseSize > 0 {
		d.truncate(resp, maxResponseSize)
	}
	return resp
}

func (d *Dispatcher) allowed(securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string, viewType vacm.ViewType, oid nsnmp.OID) bool {
	if d.cfg.VACM == nil {
		return true
	}
	return d.cfg.VACM.Check(securityModel, securityName, level, contextName, viewType, oid)
}

func (d *Dispatcher) handleGet(req *nsnmp.PDU, isV1 bool, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string) *nsnmp.PDU {
	resp := &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID, VarBinds: make([]nsnmp.VarBind, len(req.VarBinds))}
	for i, vb := range req.VarBinds {
		if !d.allowed(securityModel, securityName, level, contextName, vacm.Read, vb.Name) {
			if isV1 {
				resp.ErrorStatus = nsnmp.NoSuchName
				resp.ErrorIndex = int32(i + 1)
				resp.VarBinds = req.VarBinds
				return resp
			}
			resp.VarBinds[i] = nsnmp.VarBind{Name: vb.Name, Type: nsnmp.NoSuchObject}
			continue
		}
		tag, value, found := d.registry.Get(vb.Name)
		if !found {
			if isV1 {
				resp.ErrorStatus = nsnmp.NoSuchName
				resp.ErrorIndex = int32(i + 1)
				resp.VarBinds = req.VarBinds
				return resp
			}
			resp.VarBinds[i] = nsnmp.VarBind{Name: vb.Name, Type: nsnmp.NoSuchObject}
			continue
		}
		resp.VarBinds[i] = nsnmp.VarBind{Name: vb.Name, Type: tag, Value: value}
	}
	return resp
}

func (d *Dispatcher) handleGetNext(req *nsnmp.PDU, isV1 bool, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string) *nsnmp.PDU {
	resp := &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID, VarBinds: make([]nsnmp.VarBind, len(req.VarBinds))}
	for i, vb := range req.VarBinds {
		vbOut, endOfView := d.nextVisible(vb.Name, securityModel, securityName, level, contextName)
		if endOfView {
			if isV1 {
				resp.ErrorStatus = nsnmp.NoSuchName
				resp.ErrorIndex = int32(i + 1)
				resp.VarBinds = req.VarBinds
				return resp
			}
			resp.VarBinds[i] = nsnmp.VarBind{Name: vb.Name, Type: nsnmp.EndOfMibView}
			continue
		}
		resp.VarBinds[i] = vbOut
	}
	return resp
}

// nextVisible advances from oid to the next registry OID visible to the
// requester under VACM's read view, skipping denied OIDs, until it finds
// one, runs off the end (endOfView=true), or loops (guarded by a bound).
func (d *Dispatcher) nextVisible(oid nsnmp.OID, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string) (nsnmp.VarBind, bool) {
	cur := oid
	for i := 0; i < 10000; i++ {
		next, ok := d.registry.NextOID(cur)
		if !ok {
			return nsnmp.VarBind{}, true
		}
		if !d.allowed(securityModel, securityName, level, contextName, vacm.Read, next) {
			cur = next
			continue
		}
		tag, value, found := d.registry.Get(next)
		if !found {
			cur = next
			continue
		}
		return nsnmp.VarBind{Name: next, Type: tag, Value: value}, false
	}
	return nsnmp.VarBind{}, true
}

func (d *Dispatcher) handleGetBulk(req *nsnmp.PDU, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string) *nsnmp.PDU {
	nonRep := int(req.NonRepeaters)
	if nonRep > len(req.VarBinds) {
		nonRep = len(req.VarBinds)
	}
	resp := &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID}

	for i := 0; i < nonRep; i++ {
		vbOut, endOfView := d.nextVisible(req.VarBinds[i].Name, securityModel, securityName, level, contextName)
		if endOfView {
			vbOut = nsnmp.VarBind{Name: req.VarBinds[i].Name, Type: nsnmp.EndOfMibView}
		}
		resp.VarBinds = append(resp.VarBinds, vbOut)
	}

	repeaters := req.VarBinds[nonRep:]
	cursors := make([]nsnmp.OID, len(repeaters))
	for i, vb := range repeaters {
		cursors[i] = vb.Name
	}
	maxReps := int(req.MaxRepetitions)
	for round := 0; round < maxReps; round++ {
		anyAdvanced := false
		for i := range cursors {
			if cursors[i] == nil {
				resp.VarBinds = append(resp.VarBinds, nsnmp.VarBind{Type: nsnmp.EndOfMibView})
				continue
			}
			vbOut, endOfView := d.nextVisible(cursors[i], securityModel, securityName, level, contextName)
			if endOfView {
				resp.VarBinds = append(resp.VarBinds, nsnmp.VarBind{Name: cursors[i], Type: nsnmp.EndOfMibView})
				cursors[i] = nil
				continue
			}
			resp.VarBinds = append(resp.VarBinds, vbOut)
			cursors[i] = vbOut.Name
			anyAdvanced = true
		}
		if !anyAdvanced {
			break
		}
	}

	return resp
}

// truncate drops trailing varbinds until the encoded response fits within
// maxResponseSize, per §4.5 "Response size limits".
func (d *Dispatcher) truncate(resp *nsnmp.PDU, maxResponseSize int) {
	for len(resp.VarBinds) > 0 {
		if b, err := resp.Encode(); err == nil && len(b) <= maxResponseSize {
			return
		}
		resp.VarBinds = resp.VarBinds[:len(resp.VarBinds)-1]
	}
}

func (d *Dispatcher) handleSet(req *nsnmp.PDU, isV1 bool, securityModel int32, securityName string, level nsnmp.SecurityLevel, contextName string) *nsnmp.PDU {
	resp := &nsnmp.PDU{Type: nsnmp.GetResponse, RequestID: req.RequestID, VarBinds: req.VarBinds}

	// Phase 1: validate every varbind before committing any of them.
	for i, vb := range req.VarBinds {
		if !d.allowed(securityModel, securityName, level, contextName, vacm.Write, vb.Name) {
			resp.ErrorStatus = errStatusFor(isV1, nsnmp.AuthorizationError)
			resp.ErrorIndex = int32(i + 1)
			return resp
		}
		p := d.registry.providerFor(vb.Name)
		if p == nil {
			resp.ErrorStatus = errStatusFor(isV1, nsnmp.NoCreation)
			resp.ErrorIndex = int32(i + 1)
			return resp
		}
		if err := p.Validate(vb); err != nil {
			resp.ErrorStatus = statusFromError(isV1, err)
			resp.ErrorIndex = int32(i + 1)
			return resp
		}
	}

	// Phase 2: commit, with best-effort undo of prior commits on failure.
	committed := make([]nsnmp.VarBind, 0, len(req.VarBinds))
	for i, vb := range req.VarBinds {
		p := d.registry.providerFor(vb.Name)
		if err := p.Commit(vb); err != nil {
			for j := len(committed) - 1; j >= 0; j-- {
				up := d.registry.providerFor(committed[j].Name)
				if up != nil {
					if undoErr := up.Undo(committed[j]); undoErr != nil {
						resp.ErrorStatus = errStatusFor(isV1, nsnmp.UndoFailed)
						resp.ErrorIndex = int32(i + 1)
						return resp
					}
				}
			}
			resp.ErrorStatus = errStatusFor(isV1, nsnmp.CommitFailed)
			resp.ErrorIndex = int32(i + 1)
			return resp
		}
		committed = append(committed, vb)
	}
	return resp
}

func errStatusFor(isV1 bool, status nsnmp.ErrorStatus) nsnmp.ErrorStatus {
	if isV1 {
		return nsnmp.NoSuchName
	}
	return status
}

func statusFromError(isV1 bool, err error) nsnmp.ErrorStatus {
	if se, ok := err.(*nsnmp.SnmpError); ok {
		return errStatusFor(isV1, se.Status)
	}
	return errStatusFor(isV1, nsnmp.GenErr)
}

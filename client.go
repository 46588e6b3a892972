// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Grounded on the teacher's GoSNMP struct (gosnmp.go): Target/Port/
// Community/Version/Timeout/Retries fields and Get/GetNext/GetBulk/Set/
// Walk methods, generalized to also carry v3 User/SecurityLevel/engine
// state and to run over the Transport/Multiplexer pair instead of a single
// connected net.Conn.

package nsnmp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Config holds a manager's per-target defaults (§5 "C2 Config/Session").
// The zero value is not ready to use; NewClient fills in the documented
// defaults for any field left zero.
type Config struct {
	Version   SnmpVersion
	Community string // v1/v2c

	User          *User
	SecurityLevel SecurityLevel
	ContextName   string
	ContextEngineID string

	Timeout          time.Duration
	MaxRetries       int
	ReceiveBufferSize int
	MaxResponseSize  int
	TimelinessWindow time.Duration
	ThrowOnSnmpError bool

	Logger Logger
}

// applyDefaults fills zero-valued fields with documented defaults: Timeout
// 3s, MaxRetries 1, ReceiveBufferSize 64KiB, MaxResponseSize 1472,
// TimelinessWindow 150s, ThrowOnSnmpError false (§5 "C2").
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	if c.ReceiveBufferSize == 0 {
		c.ReceiveBufferSize = 65536
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 1472
	}
	if c.TimelinessWindow == 0 {
		c.TimelinessWindow = 150 * time.Second
	}
}

// Client is the manager façade for a single remote agent (§5 "C3 Manager
// Facade").
type Client struct {
	Config Config

	peer      net.Addr
	transport *Transport
	mux       *Multiplexer
	log       Logger

	engineID    string
	engineBoots uint32
	engineTime  uint32
	engineSeen  time.Time
}

// NewClient dials addr (e.g. "192.0.2.1:161") and constructs a Client bound
// to it. The returned Client owns its Transport/Multiplexer and must be
// Close()d.
func NewClient(addr string, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	log := logOf(cfg.Logger)

	peer, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Err: err}
	}
	transport, err := ListenUDP(":0", cfg.ReceiveBufferSize, log)
	if err != nil {
		return nil, err
	}

	c := &Client{Config: cfg, peer: peer, transport: transport, log: log}
	c.mux = NewMultiplexer(transport, c.lookupUser, log)
	go func() {
		if err := c.mux.Run(); err != nil {
			c.log.Printf("nsnmp: client multiplexer exited: %v", err)
		}
	}()
	return c, nil
}

func (c *Client) lookupUser(userName string) (*User, error) {
	if c.Config.User != nil && c.Config.User.Name == userName {
		return c.Config.User, nil
	}
	return nil, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) deadline() time.Time {
	return time.Now().Add(c.Config.Timeout)
}

// retryablePDU reports the idempotent request kinds roundTrip will resend
// on timeout (§5 "C5" retry policy, "retry restricted to idempotent PDU
// kinds... never Set, never Inform after first attempt").
func retryablePDU(t Asn1BER) bool {
	switch t {
	case GetRequest, GetNextRequest, GetBulkRequest:
		return true
	default:
		return false
	}
}

// roundTrip sends pdu and, for idempotent PDU kinds, retries up to
// Config.MaxRetries times on timeout. request-id (and, for v3, msg-id) are
// assigned once before the retry loop so a retransmission reuses the
// original request's id rather than minting a new one (§5 "C5").
func (c *Client) roundTrip(pdu *PDU) (*Message, error) {
	pdu.RequestID = c.mux.NextID()
	var msgID uint32
	if c.Config.Version == Version3 {
		msgID = uint32(c.mux.NextID())
	}

	attempts := 1
	if retryablePDU(pdu.Type) {
		attempts = c.Config.MaxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		msg, err := c.send(pdu, msgID)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if _, ok := err.(*TimeoutError); !ok {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) send(pdu *PDU, msgID uint32) (*Message, error) {
	ctx, cancel := context.WithDeadline(context.Background(), c.deadline())
	defer cancel()

	switch c.Config.Version {
	case Version1, Version2c:
		data, err := EncodeCommunityMessage(c.Config.Version, c.Config.Community, pdu)
		if err != nil {
			return nil, err
		}
		return c.mux.SendAndAwait(ctx, c.peer, pdu.RequestID, data)
	case Version3:
		opts := V3EncodeOptions{
			MsgID:           msgID,
			MaxSize:         uint32(c.Config.MaxResponseSize),
			Reportable:      true,
			ContextEngineID: c.Config.ContextEngineID,
			ContextName:     c.Config.ContextName,
			EngineID:        c.engineID,
			EngineBoots:     c.engineBoots,
			EngineTime:      c.currentEngineTime(),
			User:            c.Config.User,
			SecurityLevel:   c.Config.SecurityLevel,
		}
		data, _, err := EncodeV3Message(opts, pdu)
		if err != nil {
			return nil, err
		}
		resp, err := c.mux.SendAndAwait(ctx, c.peer, int32(msgID), data)
		if err != nil {
			return nil, err
		}
		if resp.PDU.Type == ReportPDU {
			if resyncErr := c.resyncFromReport(resp); resyncErr != nil {
				return resp, nil
			}
			// Retransmit once with the resynced engine values; whatever
			// comes back, Report or not, is returned as is.
			opts.EngineID = c.engineID
			opts.EngineBoots = c.engineBoots
			opts.EngineTime = c.currentEngineTime()
			if data, _, err = EncodeV3Message(opts, pdu); err != nil {
				return nil, err
			}
			return c.mux.SendAndAwait(ctx, c.peer, int32(msgID), data)
		}
		return resp, nil
	default:
		return nil, &VersionUnsupportedError{Operation: "send", Version: c.Config.Version}
	}
}

// currentEngineTime extrapolates the agent's engineTime forward by the
// elapsed wall-clock time since DiscoverEngine last observed it (§4.3
// "Timeliness").
func (c *Client) currentEngineTime() uint32 {
	if c.engineSeen.IsZero() {
		return 0
	}
	return c.engineTime + uint32(time.Since(c.engineSeen).Seconds())
}

// resyncFromReport updates the client's cached engineBoots/engineTime from
// an authoritative Report (usmStatsNotInTimeWindows or an initial discovery
// report), so the caller can retry exactly once (§4.3 "resync-and-retry",
// P9).
func (c *Client) resyncFromReport(msg *Message) error {
	if msg.SecurityParameters == nil {
		return fmt.Errorf("nsnmp: report carried no security parameters")
	}
	c.engineID = msg.SecurityParameters.AuthoritativeEngineID
	c.engineBoots = msg.SecurityParameters.AuthoritativeEngineBoots
	c.engineTime = msg.SecurityParameters.AuthoritativeEngineTime
	c.engineSeen = time.Now()
	return nil
}

// DiscoverEngine performs the v3 unauthenticated discovery probe (an empty
// GetRequest with a blank engine ID) and caches the agent's reported
// engineID/engineBoots/engineTime (§4.3 "Engine discovery").
func (c *Client) DiscoverEngine(ctx context.Context) error {
	pdu := &PDU{Type: GetRequest, RequestID: c.mux.NextID()}
	msgID := uint32(c.mux.NextID())
	opts := V3EncodeOptions{
		MsgID:         msgID,
		MaxSize:       uint32(c.Config.MaxResponseSize),
		Reportable:    true,
		SecurityLevel: NoAuthNoPriv,
	}
	data, _, err := EncodeV3Message(opts, pdu)
	if err != nil {
		return err
	}
	resp, err := c.mux.SendAndAwait(ctx, c.peer, int32(msgID), data)
	if err != nil {
		return err
	}
	return c.resyncFromReport(resp)
}

func (c *Client) request(pduType Asn1BER, oids []OID) ([]VarBind, error) {
	vbs := make([]VarBind, len(oids))
	for i, o := range oids {
		vbs[i] = VarBind{Name: o, Type: NullType}
	}
	pdu := &PDU{Type: pduType, VarBinds: vbs}
	resp, err := c.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	return c.finish(resp)
}

func (c *Client) finish(resp *Message) ([]VarBind, error) {
	if resp.PDU.ErrorStatus != NoError && c.Config.ThrowOnSnmpError {
		return resp.PDU.VarBinds, &SnmpError{Status: resp.PDU.ErrorStatus, Index: int(resp.PDU.ErrorIndex)}
	}
	return resp.PDU.VarBinds, nil
}

// Get issues a GetRequest for oids (§5 "C3").
func (c *Client) Get(oids ...OID) ([]VarBind, error) {
	return c.request(GetRequest, oids)
}

// GetNext issues a GetNextRequest for oids.
func (c *Client) GetNext(oids ...OID) ([]VarBind, error) {
	return c.request(GetNextRequest, oids)
}

// GetBulk issues a GetBulkRequest. It is only valid for v2c/v3 peers (§6).
func (c *Client) GetBulk(nonRepeaters, maxRepetitions int32, oids ...OID) ([]VarBind, error) {
	if c.Config.Version == Version1 {
		return nil, &VersionUnsupportedError{Operation: "GetBulk", Version: Version1}
	}
	vbs := make([]VarBind, len(oids))
	for i, o := range oids {
		vbs[i] = VarBind{Name: o, Type: NullType}
	}
	pdu := &PDU{Type: GetBulkRequest, NonRepeaters: nonRepeaters, MaxRepetitions: maxRepetitions, VarBinds: vbs}
	resp, err := c.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	return c.finish(resp)
}

// Set issues a SetRequest for the given (oid, tag, value) varbinds.
func (c *Client) Set(vbs ...VarBind) ([]VarBind, error) {
	pdu := &PDU{Type: SetRequest, VarBinds: vbs}
	resp, err := c.roundTrip(pdu)
	if err != nil {
		return nil, err
	}
	return c.finish(resp)
}

// Walk lazily walks the subtree rooted at root using repeated GetNext (or
// GetBulk, when useBulk is true and the peer is v2c/v3) calls, invoking fn
// for each varbind still inside the subtree. Walk stops (without error)
// when fn returns false, the walk leaves the subtree, or the agent reports
// endOfMibView; it is not restartable (§5 "C3" walk semantics).
func (c *Client) Walk(root OID, useBulk bool, maxRepetitions int32, fn func(VarBind) bool) error {
	current := root
	for {
		var vbs []VarBind
		var err error
		if useBulk && c.Config.Version != Version1 {
			vbs, err = c.GetBulk(0, maxRepetitions, current)
		} else {
			vbs, err = c.GetNext(current)
		}
		if err != nil {
			return err
		}
		if len(vbs) == 0 {
			return nil
		}
		for _, vb := range vbs {
			if vb.Type == EndOfMibView || !root.IsPrefixOf(vb.Name) {
				return nil
			}
			if !fn(vb) {
				return nil
			}
			current = vb.Name
		}
	}
}

// SendTrap fires an unacknowledged TrapV2PDU (or, for a v1 peer,
// TrapV1PDU) to the client's target (§5 "C10 Trap/Notify Support").
func (c *Client) SendTrap(uptime uint32, trapOID OID, vbs ...VarBind) error {
	if c.Config.Version == Version1 {
		pdu := &PDU{
			Type:         TrapV1PDU,
			Enterprise:   trapOID,
			AgentAddress: localIPv4(),
			GenericTrap:  6,
			SpecificTrap: 0,
			Timestamp:    uptime,
			VarBinds:     vbs,
		}
		data, err := EncodeCommunityMessage(Version1, c.Config.Community, pdu)
		if err != nil {
			return err
		}
		return c.transport.SendTo(c.peer, data)
	}

	allVbs := append([]VarBind{
		NewVarBind(MustParseOID("1.3.6.1.2.1.1.3.0"), TimeTicks, uptime),
		NewVarBind(MustParseOID("1.3.6.1.6.3.1.1.4.1.0"), ObjectIdentifier, trapOID),
	}, vbs...)
	pdu := &PDU{Type: TrapV2PDU, RequestID: c.mux.NextID(), VarBinds: allVbs}

	if c.Config.Version == Version3 {
		opts := V3EncodeOptions{
			MsgID:           uint32(c.mux.NextID()),
			MaxSize:         uint32(c.Config.MaxResponseSize),
			ContextEngineID: c.Config.ContextEngineID,
			ContextName:     c.Config.ContextName,
			EngineID:        c.engineID,
			EngineBoots:     c.engineBoots,
			EngineTime:      c.currentEngineTime(),
			User:            c.Config.User,
			SecurityLevel:   c.Config.SecurityLevel,
		}
		data, _, err := EncodeV3Message(opts, pdu)
		if err != nil {
			return err
		}
		return c.transport.SendTo(c.peer, data)
	}

	data, err := EncodeCommunityMessage(c.Config.Version, c.Config.Community, pdu)
	if err != nil {
		return err
	}
	return c.transport.SendTo(c.peer, data)
}

// SendInform fires an InformRequest and blocks for its acknowledgement until
// Config.Timeout; an inform is sent once and never retransmitted (§5 "C10").
func (c *Client) SendInform(uptime uint32, trapOID OID, vbs ...VarBind) error {
	allVbs := append([]VarBind{
		NewVarBind(MustParseOID("1.3.6.1.2.1.1.3.0"), TimeTicks, uptime),
		NewVarBind(MustParseOID("1.3.6.1.6.3.1.1.4.1.0"), ObjectIdentifier, trapOID),
	}, vbs...)
	pdu := &PDU{Type: InformRequest, VarBinds: allVbs}
	_, err := c.roundTrip(pdu)
	return err
}

func localIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4zero
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if v4 := ipNet.IP.To4(); v4 != nil {
				return v4
			}
		}
	}
	return net.IPv4zero
}

// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import "net"

// VarBind is an (OID, value) pair, ordered within a PDU (§3).
type VarBind struct {
	Name  OID
	Type  Asn1BER
	Value interface{}
}

// NewVarBind builds a VarBind from an explicit tag. Type is not inferred
// from value's Go type, so the caller chooses between kinds that share one
// (Counter32, Gauge32 and TimeTicks all use uint32).
func NewVarBind(name OID, tag Asn1BER, value interface{}) VarBind {
	return VarBind{Name: name, Type: tag, Value: value}
}

func (v VarBind) encode() ([]byte, error) {
	nameBytes, err := EncodeOID(v.Name)
	if err != nil {
		return nil, err
	}
	valueBytes, err := EncodeValue(v.Type, v.Value)
	if err != nil {
		return nil, newCodecError("varbind %s: %v", v.Name, err)
	}
	body := append(nameBytes, valueBytes...)
	return encodeTLV(SequenceType, body)
}

func decodeVarBind(data []byte) (VarBind, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return VarBind{}, 0, err
	}
	if tag != SequenceType {
		return VarBind{}, 0, newCodecError("varbind: expected Sequence tag, got 0x%02x", byte(tag))
	}
	oid, n, err := DecodeOID(content)
	if err != nil {
		return VarBind{}, 0, newCodecError("varbind: %v", err)
	}
	vtag, value, _, err := DecodeValue(content[n:])
	if err != nil {
		return VarBind{}, 0, newCodecError("varbind %s: %v", oid, err)
	}
	return VarBind{Name: oid, Type: vtag, Value: value}, consumed, nil
}

func encodeVarBindList(vbs []VarBind) ([]byte, error) {
	var body []byte
	for _, vb := range vbs {
		b, err := vb.encode()
		if err != nil {
			return nil, err
		}
		body = append(body, b...)
	}
	return encodeTLV(SequenceType, body)
}

func decodeVarBindList(data []byte) ([]VarBind, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return nil, 0, err
	}
	if tag != SequenceType {
		return nil, 0, newCodecError("varbind-list: expected Sequence tag, got 0x%02x", byte(tag))
	}
	var vbs []VarBind
	for off := 0; off < len(content); {
		vb, n, err := decodeVarBind(content[off:])
		if err != nil {
			return nil, 0, err
		}
		vbs = append(vbs, vb)
		off += n
	}
	return vbs, consumed, nil
}

// PDU is the tagged discriminated union of SNMP operations (§3). Which
// fields are meaningful depends on Type: GetBulkRequest uses NonRepeaters/
// MaxRepetitions instead of ErrorStatus/ErrorIndex; TrapV1PDU uses
// Enterprise/AgentAddress/GenericTrap/SpecificTrap/Timestamp instead of
// RequestID/ErrorStatus/ErrorIndex.
type PDU struct {
	Type      Asn1BER
	RequestID int32

	ErrorStatus ErrorStatus
	ErrorIndex  int32

	NonRepeaters   int32
	MaxRepetitions int32

	Enterprise   OID
	AgentAddress net.IP
	GenericTrap  int32
	SpecificTrap int32
	Timestamp    uint32

	VarBinds []VarBind
}

// Encode serializes p to its full context-class-tagged TLV.
func (p *PDU) Encode() ([]byte, error) {
	if p.Type == TrapV1PDU {
		return p.encodeTrapV1()
	}
	var buf []byte
	buf = append(buf, encodeInteger(int64(p.RequestID))...)
	reqIDBytes, err := encodeTLV(IntegerType, buf)
	if err != nil {
		return nil, err
	}

	var f2, f3 []byte
	if p.Type == GetBulkRequest {
		f2, _ = encodeTLV(IntegerType, encodeInteger(int64(p.NonRepeaters)))
		f3, _ = encodeTLV(IntegerType, encodeInteger(int64(p.MaxRepetitions)))
	} else {
		f2, _ = encodeTLV(IntegerType, encodeInteger(int64(p.ErrorStatus)))
		f3, _ = encodeTLV(IntegerType, encodeInteger(int64(p.ErrorIndex)))
	}

	vbListBytes, err := encodeVarBindList(p.VarBinds)
	if err != nil {
		return nil, err
	}

	body := append(append(append([]byte{}, reqIDBytes...), f2...), f3...)
	body = append(body, vbListBytes...)
	return encodeTLV(p.Type, body)
}

func (p *PDU) encodeTrapV1() ([]byte, error) {
	entBytes, err := EncodeOID(p.Enterprise)
	if err != nil {
		return nil, err
	}
	v4 := p.AgentAddress.To4()
	if v4 == nil {
		return nil, newCodecError("TrapV1 AgentAddress must be an IPv4 address")
	}
	agentBytes, _ := encodeTLV(IPAddress, []byte(v4))
	genericBytes, _ := encodeTLV(IntegerType, encodeInteger(int64(p.GenericTrap)))
	specificBytes, _ := encodeTLV(IntegerType, encodeInteger(int64(p.SpecificTrap)))
	tsBytes, _ := encodeTLV(TimeTicks, encodeUnsigned(uint64(p.Timestamp)))
	vbListBytes, err := encodeVarBindList(p.VarBinds)
	if err != nil {
		return nil, err
	}
	body := append([]byte{}, entBytes...)
	body = append(body, agentBytes...)
	body = append(body, genericBytes...)
	body = append(body, specificBytes...)
	body = append(body, tsBytes...)
	body = append(body, vbListBytes...)
	return encodeTLV(TrapV1PDU, body)
}

// DecodePDU decodes a single PDU TLV starting at data[0].
func DecodePDU(data []byte) (*PDU, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return nil, 0, err
	}
	switch tag {
	case GetRequest, GetNextRequest, GetResponse, SetRequest, GetBulkRequest, InformRequest, TrapV2PDU, ReportPDU:
		p, err := decodePDUCommon(tag, content)
		if err != nil {
			return nil, 0, err
		}
		return p, consumed, nil
	case TrapV1PDU:
		p, err := decodeTrapV1(content)
		if err != nil {
			return nil, 0, err
		}
		return p, consumed, nil
	default:
		return nil, 0, newCodecError("unrecognized PDU tag 0x%02x", byte(tag))
	}
}

func decodePDUCommon(tag Asn1BER, content []byte) (*PDU, error) {
	off := 0
	_, reqID, n, err := decodeIntField(content[off:], "request-id")
	if err != nil {
		return nil, err
	}
	off += n

	_, f2, n, err := decodeIntField(content[off:], "error-status/non-repeaters")
	if err != nil {
		return nil, err
	}
	off += n

	_, f3, n, err := decodeIntField(content[off:], "error-index/max-repetitions")
	if err != nil {
		return nil, err
	}
	off += n

	vbs, n, err := decodeVarBindList(content[off:])
	if err != nil {
		return nil, err
	}
	off += n

	p := &PDU{Type: tag, RequestID: int32(reqID), VarBinds: vbs}
	if tag == GetBulkRequest {
		p.NonRepeaters = int32(f2)
		p.MaxRepetitions = int32(f3)
	} else {
		p.ErrorStatus = ErrorStatus(f2)
		p.ErrorIndex = int32(f3)
	}
	return p, nil
}

func decodeTrapV1(content []byte) (*PDU, error) {
	off := 0
	ent, n, err := DecodeOID(content[off:])
	if err != nil {
		return nil, err
	}
	off += n

	tag, agentVal, n, err := DecodeValue(content[off:])
	if err != nil {
		return nil, err
	}
	if tag != IPAddress {
		return nil, newCodecError("TrapV1: expected IpAddress for agent-addr, got 0x%02x", byte(tag))
	}
	off += n
	agentIP, _ := agentVal.(net.IP)

	_, generic, n, err := decodeIntField(content[off:], "generic-trap")
	if err != nil {
		return nil, err
	}
	off += n

	_, specific, n, err := decodeIntField(content[off:], "specific-trap")
	if err != nil {
		return nil, err
	}
	off += n

	tag, tsVal, n, err := DecodeValue(content[off:])
	if err != nil {
		return nil, err
	}
	if tag != TimeTicks {
		return nil, newCodecError("TrapV1: expected TimeTicks for timestamp, got 0x%02x", byte(tag))
	}
	off += n
	ts, _ := tsVal.(uint32)

	vbs, _, err := decodeVarBindList(content[off:])
	if err != nil {
		return nil, err
	}

	return &PDU{
		Type:         TrapV1PDU,
		Enterprise:   ent,
		AgentAddress: agentIP,
		GenericTrap:  int32(generic),
		SpecificTrap: int32(specific),
		Timestamp:    ts,
		VarBinds:     vbs,
	}, nil
}

func decodeIntField(data []byte, descr string) (Asn1BER, int64, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return 0, 0, 0, newCodecError("%s: %v", descr, err)
	}
	if tag != IntegerType {
		return 0, 0, 0, newCodecError("%s: expected Integer tag, got 0x%02x", descr, byte(tag))
	}
	v, err := decodeInteger(content)
	if err != nil {
		return 0, 0, 0, newCodecError("%s: %v", descr, err)
	}
	return tag, v, consumed, nil
}

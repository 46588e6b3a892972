// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import "net"

// Asn1BER is a one-byte BER tag: two class bits, one primitive/constructed
// bit, and a five-bit tag number. SNMP only ever uses the low tag number
// form (number <= 30); the extended-number form is never produced and is
// rejected on decode.
type Asn1BER byte

// Universal class tags (§4.1 table, "universal" column).
const (
	BadVarBind       Asn1BER = 0x00
	IntegerType      Asn1BER = 0x02
	OctetStringType  Asn1BER = 0x04
	NullType         Asn1BER = 0x05
	ObjectIdentifier Asn1BER = 0x06
	SequenceType     Asn1BER = 0x30
)

// Application class tags (§4.1, "application" column).
const (
	IPAddress Asn1BER = 0x40
	Counter32 Asn1BER = 0x41
	Gauge32   Asn1BER = 0x42
	TimeTicks Asn1BER = 0x43
	Opaque    Asn1BER = 0x44
	Counter64 Asn1BER = 0x46
)

// Context class primitive tags: response-only exception values (§4.1).
const (
	NoSuchObject   Asn1BER = 0x80
	NoSuchInstance Asn1BER = 0x81
	EndOfMibView   Asn1BER = 0x82
)

// Context class constructed tags: PDU kinds (§4.1, number 0..8).
const (
	GetRequest     Asn1BER = 0xa0
	GetNextRequest Asn1BER = 0xa1
	GetResponse    Asn1BER = 0xa2
	SetRequest     Asn1BER = 0xa3
	TrapV1PDU      Asn1BER = 0xa4
	GetBulkRequest Asn1BER = 0xa5
	InformRequest  Asn1BER = 0xa6
	TrapV2PDU      Asn1BER = 0xa7
	ReportPDU      Asn1BER = 0xa8
)

// String gives a short mnemonic for tag, used in error messages and logs.
func (tag Asn1BER) String() string {
	switch tag {
	case IntegerType:
		return "Integer"
	case OctetStringType:
		return "OctetString"
	case NullType:
		return "Null"
	case ObjectIdentifier:
		return "ObjectIdentifier"
	case SequenceType:
		return "Sequence"
	case IPAddress:
		return "IpAddress"
	case Counter32:
		return "Counter32"
	case Gauge32:
		return "Gauge32"
	case TimeTicks:
		return "TimeTicks"
	case Opaque:
		return "Opaque"
	case Counter64:
		return "Counter64"
	case NoSuchObject:
		return "NoSuchObject"
	case NoSuchInstance:
		return "NoSuchInstance"
	case EndOfMibView:
		return "EndOfMibView"
	case GetRequest:
		return "GetRequest"
	case GetNextRequest:
		return "GetNextRequest"
	case GetResponse:
		return "Response"
	case SetRequest:
		return "SetRequest"
	case TrapV1PDU:
		return "TrapV1"
	case GetBulkRequest:
		return "GetBulkRequest"
	case InformRequest:
		return "InformRequest"
	case TrapV2PDU:
		return "TrapV2"
	case ReportPDU:
		return "Report"
	default:
		return "Unknown"
	}
}

// IsException reports whether tag is one of the three response-only
// exception markers (never valid in a request varbind).
func (tag Asn1BER) IsException() bool {
	switch tag {
	case NoSuchObject, NoSuchInstance, EndOfMibView:
		return true
	default:
		return false
	}
}

// Go-native value representations carried in a VarBind's Value field,
// matching the Type tag:
//
//	IntegerType       int32
//	OctetStringType   []byte
//	NullType          nil
//	ObjectIdentifier  OID
//	IPAddress         net.IP (4 bytes)
//	Counter32         uint32 (wraps at 2^32, per §3)
//	Gauge32           uint32 (clamps at 2^32-1, per §3)
//	TimeTicks         uint32
//	Opaque            []byte
//	Counter64         uint64 (wraps at 2^64)
//	NoSuchObject, NoSuchInstance, EndOfMibView: nil

// NewIPAddress validates and wraps a 4-byte IPv4 address for use as an
// IpAddress VarBind value.
func NewIPAddress(ip net.IP) (net.IP, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, newCodecError("IpAddress value %v is not a 4-byte IPv4 address", ip)
	}
	return v4, nil
}

// ClampGauge32 applies the Gauge32 saturation rule: a Gauge32 value never
// decodes or arithmetic-overflows past 2^32-1.
func ClampGauge32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

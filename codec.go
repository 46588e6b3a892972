// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"net"
)

// MaxBERLength bounds a single BER element's content length (§4.1: "oversized
// length (> remaining input or > configured max, default 65,535 bytes)").
// Callers that need a different ceiling (e.g. a transport-negotiated max
// message size) can lower it per decode by wrapping DecodeValue.
var MaxBERLength = 65535

// marshalLength encodes a BER length in definite form: short form (a single
// byte, 0-127) or long form (a length-of-length byte with bit 7 set,
// followed by 1-4 big-endian bytes). The indefinite form is never produced
// (§4.1 Non-goals).
func marshalLength(length int) ([]byte, error) {
	if length < 0 {
		return nil, newCodecError("negative length %d", length)
	}
	if length < 0x80 {
		return []byte{byte(length)}, nil
	}
	var raw []byte
	n := length
	for n > 0 {
		raw = append([]byte{byte(n & 0xff)}, raw...)
		n >>= 8
	}
	if len(raw) > 4 {
		return nil, newCodecError("length %d requires more than 4 length-of-length bytes", length)
	}
	return append([]byte{byte(0x80 | len(raw))}, raw...), nil
}

// decodeLength decodes a BER length field starting at data[0] (the tag byte
// must already have been consumed by the caller). It returns the content
// length and the number of bytes the length field itself occupied.
func decodeLength(data []byte) (length int, headerLen int, err error) {
	if len(data) < 1 {
		return 0, 0, newCodecError("unexpected end of input reading length")
	}
	b := data[0]
	if b&0x80 == 0 {
		return int(b), 1, nil
	}
	n := int(b & 0x7f)
	if n == 0 {
		return 0, 0, newCodecError("indefinite-length BER form is not supported")
	}
	if n > 4 {
		return 0, 0, newCodecError("length-of-length %d exceeds supported range", n)
	}
	if len(data) < 1+n {
		return 0, 0, newCodecError("unexpected end of input reading long-form length")
	}
	for i := 0; i < n; i++ {
		length = length<<8 | int(data[1+i])
	}
	if length > MaxBERLength {
		return 0, 0, newCodecError("length %d exceeds configured maximum %d", length, MaxBERLength)
	}
	return length, 1 + n, nil
}

// parseLength is the teacher's (gosnmp v3.go) helper, kept under its
// original name and generalized to return an error: data starts at the tag
// byte; it returns the content length and the number of bytes consumed by
// tag+length (i.e. the offset of the content).
func parseLength(data []byte) (length int, cursor int, err error) {
	if len(data) < 1 {
		return 0, 0, newCodecError("unexpected end of input reading tag")
	}
	length, lenBytes, err := decodeLength(data[1:])
	if err != nil {
		return 0, 0, err
	}
	return length, 1 + lenBytes, nil
}

// encodeHeader emits tag + length for a TLV whose content is contentLen
// bytes long.
func encodeHeader(tag Asn1BER, contentLen int) ([]byte, error) {
	lenBytes, err := marshalLength(contentLen)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(lenBytes))
	out = append(out, byte(tag))
	out = append(out, lenBytes...)
	return out, nil
}

// encodeTLV wraps content in a tag+length header.
func encodeTLV(tag Asn1BER, content []byte) ([]byte, error) {
	header, err := encodeHeader(tag, len(content))
	if err != nil {
		return nil, err
	}
	return append(header, content...), nil
}

// minimalBigEndian returns the minimum two's-complement big-endian encoding
// of v: no redundant leading 0x00 (unless required to keep a would-be
// negative value positive) nor redundant leading 0xFF (§4.1 "Integer
// encoding", P5).
func minimalBigEndian(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	if v > 0 {
		var raw []byte
		n := uint64(v)
		for n > 0 {
			raw = append([]byte{byte(n)}, raw...)
			n >>= 8
		}
		if raw[0]&0x80 != 0 {
			raw = append([]byte{0}, raw...)
		}
		return raw
	}

	// v < 0: find the fewest bytes k such that v fits in a k-byte two's
	// complement word (v >= -2^(8k-1)), then take the low k bytes of v's
	// 64-bit two's complement representation.
	k := 1
	for v < -(int64(1) << uint(8*k-1)) {
		k++
	}
	raw := make([]byte, k)
	uv := uint64(v)
	for i := k - 1; i >= 0; i-- {
		raw[i] = byte(uv)
		uv >>= 8
	}
	return raw
}

// encodeInteger encodes a signed Integer32 (or PDU integer field) value.
func encodeInteger(v int64) []byte {
	return minimalBigEndian(v)
}

// decodeInteger decodes a signed, minimally-encoded two's-complement
// integer, rejecting non-minimal forms (§4.1 "non-minimal integer").
func decodeInteger(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, newCodecError("empty integer content")
	}
	if len(data) > 1 {
		if (data[0] == 0x00 && data[1]&0x80 == 0) || (data[0] == 0xff && data[1]&0x80 != 0) {
			return 0, newCodecError("non-minimal integer encoding")
		}
	}
	var v int64
	if data[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range data {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// encodeUnsigned encodes a non-negative integer the same way encodeInteger
// does (BER does not distinguish signed/unsigned at the wire level; the
// distinction is enforced on decode).
func encodeUnsigned(v uint64) []byte {
	if v < 1<<63 {
		return minimalBigEndian(int64(v))
	}
	// Top bit set: a leading 0x00 keeps the value non-negative.
	raw := make([]byte, 9)
	for i := 8; i >= 1; i-- {
		raw[i] = byte(v)
		v >>= 8
	}
	return raw
}

// decodeUnsigned decodes an unsigned value, rejecting a decoded negative
// result (§3: "Unsigned types ... reject negative decoded values as
// malformed").
func decodeUnsigned(data []byte) (uint64, error) {
	if len(data) == 9 && data[0] == 0x00 && data[1]&0x80 != 0 {
		var u uint64
		for _, b := range data[1:] {
			u = u<<8 | uint64(b)
		}
		return u, nil
	}
	v, err := decodeInteger(data)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, newCodecError("unsigned field decoded to a negative value")
	}
	return uint64(v), nil
}

// encodeOIDArcs base-128-encodes the sub-identifiers of an OID, folding the
// first two into 40*s0+s1 (§4.1 "OID encoding").
func encodeOIDArcs(o OID) []byte {
	var out []byte
	first := 40*o[0] + o[1]
	out = append(out, encodeBase128(first)...)
	for _, arc := range o[2:] {
		out = append(out, encodeBase128(arc)...)
	}
	return out
}

func encodeBase128(v uint32) []byte {
	if v == 0 {
		return []byte{0}
	}
	var groups []byte
	for v > 0 {
		groups = append([]byte{byte(v & 0x7f)}, groups...)
		v >>= 7
	}
	for i := 0; i < len(groups)-1; i++ {
		groups[i] |= 0x80
	}
	return groups
}

// decodeOIDArcs is the inverse of encodeOIDArcs; content is the OID's
// OCTET STRING-free body (no tag/length).
func decodeOIDArcs(content []byte) (OID, error) {
	if len(content) == 0 {
		return nil, newCodecError("empty OID content")
	}
	var arcs []uint32
	var cur uint64
	started := false
	for _, b := range content {
		started = true
		cur = cur<<7 | uint64(b&0x7f)
		if cur > 0xFFFFFFFF {
			return nil, newCodecError("OID sub-identifier overflows uint32")
		}
		if b&0x80 == 0 {
			arcs = append(arcs, uint32(cur))
			cur = 0
			started = false
		}
	}
	if started {
		return nil, newCodecError("truncated OID sub-identifier")
	}
	if len(arcs) == 0 {
		return nil, newCodecError("OID decoded to zero sub-identifiers")
	}
	first := arcs[0]
	var s0, s1 uint32
	switch {
	case first < 40:
		s0, s1 = 0, first
	case first < 80:
		s0, s1 = 1, first-40
	default:
		s0, s1 = 2, first-80
	}
	oid := make(OID, 0, len(arcs)+1)
	oid = append(oid, s0, s1)
	oid = append(oid, arcs[1:]...)
	if err := oid.Validate(); err != nil {
		return nil, err
	}
	return oid, nil
}

// EncodeOID produces the full OBJECT IDENTIFIER TLV for o.
func EncodeOID(o OID) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return encodeTLV(ObjectIdentifier, encodeOIDArcs(o))
}

// DecodeOID decodes a full OBJECT IDENTIFIER TLV starting at data[0].
func DecodeOID(data []byte) (OID, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return nil, 0, err
	}
	if tag != ObjectIdentifier {
		return nil, 0, newCodecError("expected ObjectIdentifier tag, got %s (0x%02x)", tag, byte(tag))
	}
	oid, err := decodeOIDArcs(content)
	if err != nil {
		return nil, 0, err
	}
	return oid, consumed, nil
}

// decodeTLVBytes reads one TLV header+content from data and returns its
// tag, raw content bytes, and total bytes consumed. It performs all of the
// fatal structural checks in §4.1's error-modes list except the
// type-specific ones (non-minimal integer, malformed OID), which are
// applied by the typed decoders above.
func decodeTLVBytes(data []byte) (tag Asn1BER, content []byte, consumed int, err error) {
	if len(data) < 1 {
		return 0, nil, 0, newCodecError("unexpected end of input reading tag")
	}
	t := data[0]
	if t&0x1f == 0x1f {
		return 0, nil, 0, newCodecError("extended (multi-byte) tag numbers are not supported")
	}
	length, headerLen, err := decodeLength(data[1:])
	if err != nil {
		return 0, nil, 0, err
	}
	total := 1 + headerLen + length
	if total > len(data) {
		return 0, nil, 0, newCodecError("element length %d exceeds remaining input (%d bytes)", length, len(data)-1-headerLen)
	}
	return Asn1BER(t), data[1+headerLen : total], total, nil
}

// RawValue preserves an unrecognized context-class structured element
// verbatim, per §4.1's forward-compatibility rule.
type RawValue struct {
	Tag   Asn1BER
	Bytes []byte
}

// EncodeValue produces the full TLV for value under tag. value must match
// the Go type documented in value.go's type table for tag.
func EncodeValue(tag Asn1BER, value interface{}) ([]byte, error) {
	switch tag {
	case IntegerType:
		v, ok := value.(int32)
		if !ok {
			vv, ok2 := value.(int)
			if !ok2 {
				return nil, newCodecError("Integer value must be int or int32, got %T", value)
			}
			v = int32(vv)
		}
		return encodeTLV(IntegerType, encodeInteger(int64(v)))
	case OctetStringType, Opaque:
		b, ok := value.([]byte)
		if !ok {
			if s, ok2 := value.(string); ok2 {
				b = []byte(s)
			} else {
				return nil, newCodecError("OctetString/Opaque value must be []byte or string, got %T", value)
			}
		}
		return encodeTLV(tag, b)
	case NullType, NoSuchObject, NoSuchInstance, EndOfMibView:
		return encodeTLV(tag, nil)
	case ObjectIdentifier:
		oid, ok := value.(OID)
		if !ok {
			return nil, newCodecError("ObjectIdentifier value must be OID, got %T", value)
		}
		return EncodeOID(oid)
	case IPAddress:
		ip, ok := value.(net.IP)
		if !ok {
			return nil, newCodecError("IpAddress value must be net.IP, got %T", value)
		}
		v4 := ip.To4()
		if v4 == nil {
			return nil, newCodecError("IpAddress value %v is not IPv4", ip)
		}
		return encodeTLV(IPAddress, []byte(v4))
	case Counter32, Gauge32, TimeTicks:
		v, err := asUint32(value)
		if err != nil {
			return nil, err
		}
		return encodeTLV(tag, encodeUnsigned(uint64(v)))
	case Counter64:
		v, err := asUint64(value)
		if err != nil {
			return nil, err
		}
		return encodeTLV(Counter64, encodeUnsigned(v))
	case SequenceType, GetRequest, GetNextRequest, GetResponse, SetRequest,
		TrapV1PDU, GetBulkRequest, InformRequest, TrapV2PDU, ReportPDU:
		b, ok := value.([]byte)
		if !ok {
			return nil, newCodecError("constructed tag %s requires pre-encoded []byte content", tag)
		}
		return encodeTLV(tag, b)
	default:
		if raw, ok := value.(RawValue); ok {
			return encodeTLV(raw.Tag, raw.Bytes)
		}
		return nil, newCodecError("unsupported tag 0x%02x", byte(tag))
	}
}

func asUint32(value interface{}) (uint32, error) {
	switch v := value.(type) {
	case uint32:
		return v, nil
	case int:
		if v < 0 {
			return 0, newCodecError("negative value %d for unsigned field", v)
		}
		return uint32(v), nil
	case uint64:
		return uint32(v), nil
	default:
		return 0, newCodecError("expected an unsigned integer value, got %T", value)
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, newCodecError("negative value %d for unsigned field", v)
		}
		return uint64(v), nil
	default:
		return 0, newCodecError("expected an unsigned integer value, got %T", value)
	}
}

// DecodeValue decodes one full TLV from the start of data and returns its
// tag, a Go-native value (per value.go's table), and the number of bytes
// consumed.
func DecodeValue(data []byte) (tag Asn1BER, value interface{}, consumed int, err error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return 0, nil, 0, err
	}
	switch tag {
	case IntegerType:
		v, err := decodeInteger(content)
		if err != nil {
			return 0, nil, 0, err
		}
		return tag, int32(v), consumed, nil
	case OctetStringType, Opaque:
		cp := make([]byte, len(content))
		copy(cp, content)
		return tag, cp, consumed, nil
	case NullType, NoSuchObject, NoSuchInstance, EndOfMibView:
		return tag, nil, consumed, nil
	case ObjectIdentifier:
		oid, err := decodeOIDArcs(content)
		if err != nil {
			return 0, nil, 0, err
		}
		return tag, oid, consumed, nil
	case IPAddress:
		if len(content) != 4 {
			return 0, nil, 0, newCodecError("IpAddress content must be 4 bytes, got %d", len(content))
		}
		ip := make(net.IP, 4)
		copy(ip, content)
		return tag, ip, consumed, nil
	case Counter32, Gauge32, TimeTicks:
		v, err := decodeUnsigned(content)
		if err != nil {
			return 0, nil, 0, err
		}
		if tag == Gauge32 {
			return tag, ClampGauge32(v), consumed, nil
		}
		return tag, uint32(v), consumed, nil
	case Counter64:
		v, err := decodeUnsigned(content)
		if err != nil {
			return 0, nil, 0, err
		}
		return tag, v, consumed, nil
	case SequenceType, GetRequest, GetNextRequest, GetResponse, SetRequest,
		TrapV1PDU, GetBulkRequest, InformRequest, TrapV2PDU, ReportPDU:
		cp := make([]byte, len(content))
		copy(cp, content)
		return tag, cp, consumed, nil
	default:
		// Unknown-but-structured context-class items are preserved as
		// opaque bytes for forward compatibility (§4.1).
		cp := make([]byte, len(content))
		copy(cp, content)
		return tag, RawValue{Tag: tag, Bytes: cp}, consumed, nil
	}
}

// marshalUvarInt is the teacher's helper for encoding the v3 header's
// plain (non-tagged) unsigned fields (msgID, maxSize, engine boots/time)
// as minimal big-endian bytes.
func marshalUvarInt(v uint32) []byte {
	return minimalBigEndian(int64(v))
}

// parseRawField decodes one TLV at the start of data into a loosely-typed
// Go value (int for INTEGER, string for OCTET STRING) the way the teacher's
// v3 header parser consumes it, returning the element's tag-relative value,
// the number of bytes consumed, and an error for malformed input. descr
// names the field for error messages.
func parseRawField(data []byte, descr string) (interface{}, int, error) {
	tag, content, consumed, err := decodeTLVBytes(data)
	if err != nil {
		return nil, 0, newCodecError("%s: %v", descr, err)
	}
	switch tag {
	case IntegerType:
		v, err := decodeInteger(content)
		if err != nil {
			return nil, 0, newCodecError("%s: %v", descr, err)
		}
		return int(v), consumed, nil
	case OctetStringType:
		return string(content), consumed, nil
	default:
		return nil, 0, newCodecError("%s: unexpected tag 0x%02x", descr, byte(tag))
	}
}

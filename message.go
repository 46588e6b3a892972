// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Adapted from the teacher's v3.go: marshalV3/marshalV3Header/
// marshalV3UsmSecurityParameters/marshalV3ScopedPDU/prepareV3ScopedPDU
// become EncodeV3Message/encodeV3Header/encodeScopedPDU; unmarshalV3Header/
// decryptPacket/unmarshalUsmSecurityParameters become DecodeV3Message's
// internals - generalized throughout to call this module's own codec.go/
// pdu.go primitives instead of the teacher's now-absorbed helpers.

package nsnmp

import "fmt"

// SnmpVersion identifies the message-framing version (§4.2).
type SnmpVersion int32

// Supported versions. The wire encoding of v1/v2c's version field is 0/1;
// v3's is 3 (RFC 3412).
const (
	Version1  SnmpVersion = 0
	Version2c SnmpVersion = 1
	Version3  SnmpVersion = 3
)

func (v SnmpVersion) String() string {
	switch v {
	case Version1:
		return "1"
	case Version2c:
		return "2c"
	case Version3:
		return "3"
	default:
		return fmt.Sprintf("SnmpVersion(%d)", int32(v))
	}
}

// SecurityLevel is USM's per-message authentication/privacy requirement
// (§4.3, "securityLevel").
type SecurityLevel int

const (
	NoAuthNoPriv SecurityLevel = iota
	AuthNoPriv
	AuthPriv
)

func (l SecurityLevel) String() string {
	switch l {
	case NoAuthNoPriv:
		return "noAuthNoPriv"
	case AuthNoPriv:
		return "authNoPriv"
	case AuthPriv:
		return "authPriv"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
}

// MsgFlags is the single-octet msgFlags field of a v3 header (§4.2).
type MsgFlags byte

const (
	FlagAuth       MsgFlags = 0x01
	FlagPriv       MsgFlags = 0x02
	FlagReportable MsgFlags = 0x04
)

// V3Header is the plaintext msgGlobalData of a v3 message (§4.2).
type V3Header struct {
	MsgID         uint32
	MaxSize       uint32
	Flags         MsgFlags
	SecurityModel int32
}

// UsmSecurityModel is the standard securityModel value for USM (RFC 3414).
const UsmSecurityModel int32 = 3

// Message is a decoded SNMP message envelope of any version: v1/v2c fields
// (Community) or v3 fields (V3Header, SecurityParameters, ContextEngineID,
// ContextName) are populated depending on Version (§4.2).
type Message struct {
	Version SnmpVersion

	Community string

	V3Header           V3Header
	SecurityParameters *UsmSecurityParameters
	ContextEngineID    string
	ContextName        string

	PDU *PDU
}

// EncodeCommunityMessage serializes a v1/v2c message: SEQUENCE{version,
// community, pdu} (§4.2).
func EncodeCommunityMessage(version SnmpVersion, community string, pdu *PDU) ([]byte, error) {
	pduBytes, err := pdu.Encode()
	if err != nil {
		return nil, err
	}
	versionBytes, err := encodeTLV(IntegerType, encodeInteger(int64(version)))
	if err != nil {
		return nil, err
	}
	communityBytes, err := encodeTLV(OctetStringType, []byte(community))
	if err != nil {
		return nil, err
	}
	body := append(append([]byte{}, versionBytes...), communityBytes...)
	body = append(body, pduBytes...)
	return encodeTLV(SequenceType, body)
}

// DecodeCommunityMessage parses a v1/v2c message starting at data[0].
func DecodeCommunityMessage(data []byte) (*Message, error) {
	tag, content, _, err := decodeTLVBytes(data)
	if err != nil {
		return nil, err
	}
	if tag != SequenceType {
		return nil, newCodecError("message: expected Sequence tag, got 0x%02x", byte(tag))
	}
	off := 0
	version, n, err := decodeIntegerField(content[off:])
	if err != nil {
		return nil, err
	}
	off += n

	community, n, err := decodeOctetStringField(content[off:])
	if err != nil {
		return nil, err
	}
	off += n

	pdu, n, err := DecodePDU(content[off:])
	if err != nil {
		return nil, err
	}
	off += n

	return &Message{Version: SnmpVersion(version), Community: community, PDU: pdu}, nil
}

// V3EncodeOptions configures EncodeV3Message. User and SecurityLevel may be
// left zero-valued for noAuthNoPriv (e.g. engine discovery's empty probe).
type V3EncodeOptions struct {
	MsgID           uint32
	MaxSize         uint32
	Reportable      bool
	ContextEngineID string
	ContextName     string

	EngineID    string
	EngineBoots uint32
	EngineTime  uint32

	User          *User
	SecurityLevel SecurityLevel
}

// encodeScopedPDU serializes SEQUENCE{contextEngineID, contextName, pdu}
// (§4.2 "scoped PDU").
func encodeScopedPDU(contextEngineID, contextName string, pdu *PDU) ([]byte, error) {
	pduBytes, err := pdu.Encode()
	if err != nil {
		return nil, err
	}
	idBytes, err := encodeTLV(OctetStringType, []byte(contextEngineID))
	if err != nil {
		return nil, err
	}
	nameBytes, err := encodeTLV(OctetStringType, []byte(contextName))
	if err != nil {
		return nil, err
	}
	body := append(append([]byte{}, idBytes...), nameBytes...)
	body = append(body, pduBytes...)
	return encodeTLV(SequenceType, body)
}

func decodeScopedPDU(data []byte) (contextEngineID, contextName string, pdu *PDU, err error) {
	tag, content, _, err := decodeTLVBytes(data)
	if err != nil {
		return "", "", nil, err
	}
	if tag != SequenceType {
		return "", "", nil, newCodecError("scoped PDU: expected Sequence tag, got 0x%02x", byte(tag))
	}
	off := 0
	id, n, err := decodeOctetStringField(content[off:])
	if err != nil {
		return "", "", nil, err
	}
	off += n

	name, n, err := decodeOctetStringField(content[off:])
	if err != nil {
		return "", "", nil, err
	}
	off += n

	p, _, err := DecodePDU(content[off:])
	if err != nil {
		return "", "", nil, err
	}
	return id, name, p, nil
}

func encodeV3Header(hdr V3Header) ([]byte, error) {
	msgIDBytes, err := encodeTLV(IntegerType, encodeInteger(int64(hdr.MsgID)))
	if err != nil {
		return nil, err
	}
	maxSizeBytes, err := encodeTLV(IntegerType, encodeInteger(int64(hdr.MaxSize)))
	if err != nil {
		return nil, err
	}
	flagsBytes, err := encodeTLV(OctetStringType, []byte{byte(hdr.Flags)})
	if err != nil {
		return nil, err
	}
	modelBytes, err := encodeTLV(IntegerType, encodeInteger(int64(hdr.SecurityModel)))
	if err != nil {
		return nil, err
	}
	body := append(append([]byte{}, msgIDBytes...), maxSizeBytes...)
	body = append(body, flagsBytes...)
	body = append(body, modelBytes...)
	return encodeTLV(SequenceType, body)
}

func decodeV3Header(content []byte) (V3Header, error) {
	off := 0
	msgID, n, err := decodeIntegerField(content[off:])
	if err != nil {
		return V3Header{}, err
	}
	off += n

	maxSize, n, err := decodeIntegerField(content[off:])
	if err != nil {
		return V3Header{}, err
	}
	off += n

	tag, flagContent, n, err := decodeTLVBytes(content[off:])
	if err != nil {
		return V3Header{}, err
	}
	if tag != OctetStringType || len(flagContent) != 1 {
		return V3Header{}, newCodecError("v3 header: msgFlags must be a 1-byte OctetString")
	}
	off += n

	model, n, err := decodeIntegerField(content[off:])
	if err != nil {
		return V3Header{}, err
	}

	return V3Header{
		MsgID:         uint32(msgID),
		MaxSize:       uint32(maxSize),
		Flags:         MsgFlags(flagContent[0]),
		SecurityModel: int32(model),
	}, nil
}

// EncodeV3Message serializes a full v3 message, authenticating it (and
// encrypting the scoped PDU) per opts.SecurityLevel. It returns the wire
// bytes and the security parameters actually used (so the caller can log or
// retain the message's salt/engine values).
func EncodeV3Message(opts V3EncodeOptions, pdu *PDU) ([]byte, *UsmSecurityParameters, error) {
	authFlag := opts.SecurityLevel >= AuthNoPriv
	privFlag := opts.SecurityLevel >= AuthPriv
	if (authFlag || privFlag) && opts.User == nil {
		return nil, nil, newSecurityError("EncodeV3Message: SecurityLevel requires a User")
	}

	var flags MsgFlags
	if authFlag {
		flags |= FlagAuth
	}
	if privFlag {
		flags |= FlagPriv
	}
	if opts.Reportable {
		flags |= FlagReportable
	}

	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    opts.EngineID,
		AuthoritativeEngineBoots: opts.EngineBoots,
		AuthoritativeEngineTime:  opts.EngineTime,
	}
	if opts.User != nil {
		sp.UserName = opts.User.Name
	}

	scopedPDUBytes, err := encodeScopedPDU(opts.ContextEngineID, opts.ContextName, pdu)
	if err != nil {
		return nil, nil, err
	}

	var scopedField []byte
	if privFlag {
		ciphertext, err := encryptScopedPDU(opts.User, sp, scopedPDUBytes)
		if err != nil {
			return nil, nil, err
		}
		scopedField, err = encodeTLV(OctetStringType, ciphertext)
		if err != nil {
			return nil, nil, err
		}
	} else {
		scopedField = scopedPDUBytes
	}

	secParamsSeqBytes, authOffsetInSeq, err := encodeUSMParameters(sp, authFlag, privFlag)
	if err != nil {
		return nil, nil, err
	}
	secParamsField, err := encodeTLV(OctetStringType, secParamsSeqBytes)
	if err != nil {
		return nil, nil, err
	}
	authOffsetInField := -1
	if authFlag {
		authOffsetInField = authOffsetInSeq + (len(secParamsField) - len(secParamsSeqBytes))
	}

	versionBytes, err := encodeTLV(IntegerType, encodeInteger(int64(Version3)))
	if err != nil {
		return nil, nil, err
	}
	hdr := V3Header{MsgID: opts.MsgID, MaxSize: opts.MaxSize, Flags: flags, SecurityModel: UsmSecurityModel}
	headerBytes, err := encodeV3Header(hdr)
	if err != nil {
		return nil, nil, err
	}

	body := append([]byte{}, versionBytes...)
	body = append(body, headerBytes...)
	body = append(body, secParamsField...)
	body = append(body, scopedField...)

	full, err := encodeTLV(SequenceType, body)
	if err != nil {
		return nil, nil, err
	}

	if authFlag {
		prefixLen := len(full) - len(body)
		authAbsOffset := prefixLen + len(versionBytes) + len(headerBytes) + authOffsetInField
		key, err := opts.User.AuthKey(opts.EngineID)
		if err != nil {
			return nil, nil, err
		}
		if err := authenticateMessage(opts.User.AuthProtocol, key, full, authAbsOffset); err != nil {
			return nil, nil, err
		}
		sp.AuthenticationParameters = append([]byte{}, full[authAbsOffset:authAbsOffset+12]...)
	}

	return full, sp, nil
}

// DecodeV3Message parses and authenticates/decrypts a v3 message. lookupUser
// resolves the user named in the message's security parameters; it may be
// nil when only noAuthNoPriv messages are expected (e.g. an unauthenticated
// engine-discovery Report). When lookupUser is nil or finds no user, an
// authenticated or encrypted message fails with a *SecurityError carrying
// usmStatsUnknownUserNames.
func DecodeV3Message(data []byte, lookupUser func(userName string) (*User, error)) (*Message, error) {
	tag, outerContent, totalConsumed, err := decodeTLVBytes(data)
	if err != nil {
		return nil, err
	}
	if tag != SequenceType {
		return nil, newCodecError("v3 message: expected Sequence tag, got 0x%02x", byte(tag))
	}
	outerHeaderLen := totalConsumed - len(outerContent)

	coff := 0
	version, n, err := decodeIntegerField(outerContent[coff:])
	if err != nil {
		return nil, err
	}
	coff += n
	if SnmpVersion(version) != Version3 {
		return nil, newCodecError("v3 message: version field is %d, not 3", version)
	}

	_, headerContent, n, err := decodeTLVBytes(outerContent[coff:])
	if err != nil {
		return nil, err
	}
	coff += n
	hdr, err := decodeV3Header(headerContent)
	if err != nil {
		return nil, err
	}

	secFieldStart := outerHeaderLen + coff
	_, secParamsOctetContent, n, err := decodeTLVBytes(outerContent[coff:])
	if err != nil {
		return nil, err
	}
	secFieldHeaderLen := n - len(secParamsOctetContent)
	coff += n

	sp, _, authOffsetWithinInner, err := decodeUSMParameters(secParamsOctetContent)
	if err != nil {
		return nil, err
	}

	authFlag := hdr.Flags&FlagAuth != 0
	privFlag := hdr.Flags&FlagPriv != 0

	var user *User
	if lookupUser != nil {
		user, err = lookupUser(sp.UserName)
		if err != nil {
			return nil, err
		}
	}

	// partial is returned alongside a *SecurityError so a caller correlating
	// outstanding requests (the manager's Multiplexer) can still recover the
	// message's msgID even though security processing failed - only the
	// scoped PDU, which needs the very key material that failed to verify,
	// is unavailable.
	partial := &Message{Version: Version3, V3Header: hdr, SecurityParameters: sp, ContextEngineID: "", ContextName: ""}

	scopedFieldData := outerContent[coff:]
	var scopedPDUBytes []byte
	if privFlag {
		if user == nil {
			return partial, &SecurityError{Reason: "encrypted message from unknown user " + sp.UserName, ReportOID: OIDUsmStatsUnknownUserNames}
		}
		cipherTag, ciphertextContent, _, err := decodeTLVBytes(scopedFieldData)
		if err != nil {
			return nil, err
		}
		if cipherTag != OctetStringType {
			return nil, newCodecError("v3 message: encrypted scoped PDU must be an OctetString")
		}
		scopedPDUBytes, err = decryptScopedPDU(user, sp, ciphertextContent)
		if err != nil {
			return partial, &SecurityError{Reason: "scoped PDU decryption failed: " + err.Error(), ReportOID: OIDUsmStatsDecryptionErrors}
		}
	} else {
		scopedPDUBytes = scopedFieldData
	}

	if authFlag {
		if user == nil {
			return partial, &SecurityError{Reason: "authenticated message from unknown user " + sp.UserName, ReportOID: OIDUsmStatsUnknownUserNames}
		}
		authAbsOffset := secFieldStart + secFieldHeaderLen + authOffsetWithinInner
		key, err := user.AuthKey(sp.AuthoritativeEngineID)
		if err != nil {
			return nil, err
		}
		if !verifyAuthentication(user.AuthProtocol, key, data, authAbsOffset, sp.AuthenticationParameters) {
			return partial, &SecurityError{Reason: "authentication digest mismatch for user " + sp.UserName, ReportOID: OIDUsmStatsWrongDigests}
		}
	}

	ctxEngineID, ctxName, pdu, err := decodeScopedPDU(scopedPDUBytes)
	if err != nil {
		return nil, err
	}

	return &Message{
		Version:            Version3,
		V3Header:           hdr,
		SecurityParameters: sp,
		ContextEngineID:    ctxEngineID,
		ContextName:        ctxName,
		PDU:                pdu,
	}, nil
}

// DecodeMessage sniffs the version field and dispatches to
// DecodeCommunityMessage or DecodeV3Message.
func DecodeMessage(data []byte, lookupUser func(userName string) (*User, error)) (*Message, error) {
	_, content, _, err := decodeTLVBytes(data)
	if err != nil {
		return nil, err
	}
	version, _, err := decodeIntegerField(content)
	if err != nil {
		return nil, err
	}
	switch SnmpVersion(version) {
	case Version1, Version2c:
		return DecodeCommunityMessage(data)
	case Version3:
		return DecodeV3Message(data, lookupUser)
	default:
		return nil, newCodecError("message: unrecognized version field %d", version)
	}
}

// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.
//
// Adapted from the teacher's v3.go: genlocalkey/md5HMAC/shaHMAC become
// localizeKey/expandPassphrase; isAuthentic/authenticate become
// verifyAuthentication/computeAuthDigest; usmAllocateNewSalt/saltNewPacket
// become User.nextSalt; extended with SHA224/256/384/512 and AES192/256 per
// §4.3, grounded on other_examples/44180c9a_kokizzu-gosnmp__v3_usm.go's
// wider hash set and its use of crypto/subtle for constant-time comparison.

package nsnmp

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"hash"
	"sync"
)

// AuthProtocol identifies a USM authentication (HMAC digest) algorithm.
type AuthProtocol int

// Supported authentication protocols (§3 "User (USM entry)").
const (
	NoAuth AuthProtocol = iota
	MD5
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
)

// PrivProtocol identifies a USM privacy (encryption) algorithm.
type PrivProtocol int

// Supported privacy protocols (§3).
const (
	NoPriv PrivProtocol = iota
	DES
	AES128
	AES192
	AES256
)

func newHash(p AuthProtocol) hash.Hash {
	switch p {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return nil
	}
}

func hmacCtor(p AuthProtocol) func() hash.Hash {
	switch p {
	case MD5:
		return md5.New
	case SHA1:
		return sha1.New
	case SHA224:
		return sha256.New224
	case SHA256:
		return sha256.New
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	default:
		return nil
	}
}

func requiredPrivBytes(p PrivProtocol) int {
	switch p {
	case DES, AES128:
		return 16
	case AES192:
		return 24
	case AES256:
		return 32
	default:
		return 0
	}
}

// expandPassphrase repeats passphrase cyclically into a buffer of exactly
// size bytes (§4.3 "expand P by repeating into a 1 MiB buffer").
func expandPassphrase(passphrase string, size int) []byte {
	if len(passphrase) == 0 {
		return make([]byte, size)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = passphrase[i%len(passphrase)]
	}
	return buf
}

// localizeKey implements RFC 3414's key localization algorithm: Ku =
// H(expand(passphrase)), Kul = H(Ku || engineID || Ku) (§4.3, P6).
func localizeKey(proto AuthProtocol, passphrase, engineID string) ([]byte, error) {
	h := newHash(proto)
	if h == nil {
		return nil, newSecurityError("localizeKey: unsupported or NoAuth protocol")
	}
	h.Write(expandPassphrase(passphrase, 1048576))
	ku := h.Sum(nil)

	h2 := newHash(proto)
	h2.Write(ku)
	h2.Write([]byte(engineID))
	h2.Write(ku)
	return h2.Sum(nil), nil
}

// extendKey implements the authentication-key-extension procedure (§4.3):
// K_{i+1} = H(K_i), concatenated until at least need bytes are available,
// then truncated. For DES/AES128 (need <= len(base)) it is a pure
// truncation with no extension rounds.
func extendKey(proto AuthProtocol, base []byte, need int) []byte {
	out := append([]byte{}, base...)
	cur := base
	for len(out) < need {
		h := newHash(proto)
		h.Write(cur)
		cur = h.Sum(nil)
		out = append(out, cur...)
	}
	return out[:need]
}

func newSecurityError(reason string) *SecurityError {
	return &SecurityError{Reason: reason}
}

// User is a configured USM principal: its protocols, passphrases, and a
// per-authoritative-engine cache of localized keys and salt counters
// (§3 "User (USM entry)").
type User struct {
	Name           string
	AuthProtocol   AuthProtocol
	AuthPassphrase string
	PrivProtocol   PrivProtocol
	PrivPassphrase string

	mu           sync.Mutex
	authKeys     map[string][]byte
	privKeyBases map[string][]byte
	saltCounters map[string]uint64
}

// NewUser constructs a USM user entry.
func NewUser(name string, authProto AuthProtocol, authPass string, privProto PrivProtocol, privPass string) *User {
	return &User{
		Name:           name,
		AuthProtocol:   authProto,
		AuthPassphrase: authPass,
		PrivProtocol:   privProto,
		PrivPassphrase: privPass,
	}
}

// AuthKey returns the localized authentication key for engineID, computing
// and caching it on first use (P6: deterministic given passphrase+engineID+hash).
func (u *User) AuthKey(engineID string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if k, ok := u.authKeys[engineID]; ok {
		return k, nil
	}
	k, err := localizeKey(u.AuthProtocol, u.AuthPassphrase, engineID)
	if err != nil {
		return nil, err
	}
	if u.authKeys == nil {
		u.authKeys = make(map[string][]byte)
	}
	u.authKeys[engineID] = k
	return k, nil
}

// privKeyBase returns the localized privacy passphrase digest for engineID
// (before truncation/extension to the cipher's required key length).
func (u *User) privKeyBase(engineID string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if k, ok := u.privKeyBases[engineID]; ok {
		return k, nil
	}
	k, err := localizeKey(u.AuthProtocol, u.PrivPassphrase, engineID)
	if err != nil {
		return nil, err
	}
	if u.privKeyBases == nil {
		u.privKeyBases = make(map[string][]byte)
	}
	u.privKeyBases[engineID] = k
	return k, nil
}

// PrivKey returns the localized privacy cipher key, sized for u.PrivProtocol,
// for engineID.
func (u *User) PrivKey(engineID string) ([]byte, error) {
	base, err := u.privKeyBase(engineID)
	if err != nil {
		return nil, err
	}
	return extendKey(u.AuthProtocol, base, requiredPrivBytes(u.PrivProtocol)), nil
}

// MaxSecurityLevel returns the highest SecurityLevel this user is configured
// to reach, derived from its protocols: a user with no privacy protocol
// cannot serve authPriv, and a user with no auth protocol cannot serve
// authNoPriv (§4.3 "Unsupported security level").
func (u *User) MaxSecurityLevel() SecurityLevel {
	if u.PrivProtocol != NoPriv {
		return AuthPriv
	}
	if u.AuthProtocol != NoAuth {
		return AuthNoPriv
	}
	return NoAuthNoPriv
}

// nextSalt returns the next value of the per-(user, engineID) salt counter,
// seeded randomly on first use so a fresh process never reuses a prior
// process's (key, salt) pair within the same engineBoots epoch (§4.3
// "Counter-mode salt invariant", P7).
func (u *User) nextSalt(engineID string) uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.saltCounters == nil {
		u.saltCounters = make(map[string]uint64)
	}
	if _, ok := u.saltCounters[engineID]; !ok {
		var seed [8]byte
		_, _ = crand.Read(seed[:])
		u.saltCounters[engineID] = binary.BigEndian.Uint64(seed[:])
	}
	c := u.saltCounters[engineID]
	u.saltCounters[engineID] = c + 1
	return c
}

// UsmSecurityParameters is the wire-level content of a v3 message's
// msgSecurityParameters field (§4.2).
type UsmSecurityParameters struct {
	AuthoritativeEngineID    string
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 string
	AuthenticationParameters []byte
	PrivacyParameters        []byte
}

// Copy returns a deep copy of sp.
func (sp *UsmSecurityParameters) Copy() *UsmSecurityParameters {
	c := *sp
	c.AuthenticationParameters = append([]byte{}, sp.AuthenticationParameters...)
	c.PrivacyParameters = append([]byte{}, sp.PrivacyParameters...)
	return &c
}

// encodeUSMParameters serializes sp as the inner USM parameters SEQUENCE
// (§4.2). It returns the encoded bytes and the offset within them at which
// the authentication-parameters content begins (for later HMAC patching),
// mirroring the teacher's marshalV3UsmSecurityParameters/authParamStart.
func encodeUSMParameters(sp *UsmSecurityParameters, authFlag, privFlag bool) ([]byte, int, error) {
	var body []byte

	idBytes, err := encodeTLV(OctetStringType, []byte(sp.AuthoritativeEngineID))
	if err != nil {
		return nil, 0, err
	}
	body = append(body, idBytes...)

	bootsBytes, err := encodeTLV(IntegerType, marshalUvarInt(sp.AuthoritativeEngineBoots))
	if err != nil {
		return nil, 0, err
	}
	body = append(body, bootsBytes...)

	timeBytes, err := encodeTLV(IntegerType, marshalUvarInt(sp.AuthoritativeEngineTime))
	if err != nil {
		return nil, 0, err
	}
	body = append(body, timeBytes...)

	userBytes, err := encodeTLV(OctetStringType, []byte(sp.UserName))
	if err != nil {
		return nil, 0, err
	}
	body = append(body, userBytes...)

	authParamOffset := -1
	if authFlag {
		header, err := encodeHeader(OctetStringType, 12)
		if err != nil {
			return nil, 0, err
		}
		authParamOffset = len(body) + len(header)
		body = append(body, header...)
		body = append(body, make([]byte, 12)...)
	} else {
		header, _ := encodeHeader(OctetStringType, 0)
		body = append(body, header...)
	}

	if privFlag {
		privBytes, err := encodeTLV(OctetStringType, sp.PrivacyParameters)
		if err != nil {
			return nil, 0, err
		}
		body = append(body, privBytes...)
	} else {
		header, _ := encodeHeader(OctetStringType, 0)
		body = append(body, header...)
	}

	seq, err := encodeTLV(SequenceType, body)
	if err != nil {
		return nil, 0, err
	}
	if authParamOffset >= 0 {
		// account for the outer Sequence tag+length header we just added
		authParamOffset += len(seq) - len(body)
	}
	return seq, authParamOffset, nil
}

// decodeUSMParameters parses the inner USM parameters SEQUENCE starting at
// data[0]. It returns the parsed struct, bytes consumed, and the offset
// within data at which the 12-byte authentication-parameters content
// begins (0 if msgFlags indicates no auth), for the caller to zero before
// verifying the HMAC.
func decodeUSMParameters(data []byte) (sp *UsmSecurityParameters, consumed int, authParamOffset int, err error) {
	tag, content, n, err := decodeTLVBytes(data)
	if err != nil {
		return nil, 0, 0, err
	}
	if tag != SequenceType {
		return nil, 0, 0, newCodecError("USM parameters: expected Sequence tag, got 0x%02x", byte(tag))
	}
	headerLen := n - len(content)

	sp = &UsmSecurityParameters{}
	off := 0

	engineID, m, err := decodeOctetStringField(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.AuthoritativeEngineID = engineID
	off += m

	boots, m, err := decodeIntegerField(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.AuthoritativeEngineBoots = uint32(boots)
	off += m

	t, m, err := decodeIntegerField(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.AuthoritativeEngineTime = uint32(t)
	off += m

	user, m, err := decodeOctetStringField(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.UserName = user
	off += m

	_, authContent, m, err := decodeTLVBytes(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.AuthenticationParameters = append([]byte{}, authContent...)
	if len(authContent) == 12 {
		authParamOffset = headerLen + off + (m - len(authContent))
	}
	off += m

	_, privContent, m, err := decodeTLVBytes(content[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	sp.PrivacyParameters = append([]byte{}, privContent...)
	off += m

	return sp, n, authParamOffset, nil
}

func decodeOctetStringField(data []byte) (string, int, error) {
	tag, content, n, err := decodeTLVBytes(data)
	if err != nil {
		return "", 0, err
	}
	if tag != OctetStringType {
		return "", 0, newCodecError("expected OctetString tag, got 0x%02x", byte(tag))
	}
	return string(content), n, nil
}

func decodeIntegerField(data []byte) (int64, int, error) {
	tag, content, n, err := decodeTLVBytes(data)
	if err != nil {
		return 0, 0, err
	}
	if tag != IntegerType {
		return 0, 0, newCodecError("expected Integer tag, got 0x%02x", byte(tag))
	}
	v, err := decodeInteger(content)
	if err != nil {
		return 0, 0, err
	}
	return v, n, nil
}

// computeAuthDigest computes HMAC(key, msg) with proto's hash and truncates
// to 12 bytes (§4.3 "Authentication").
func computeAuthDigest(proto AuthProtocol, key, msg []byte) ([]byte, error) {
	ctor := hmacCtor(proto)
	if ctor == nil {
		return nil, newSecurityError("computeAuthDigest: unsupported protocol")
	}
	h := hmac.New(ctor, key)
	h.Write(msg)
	sum := h.Sum(nil)
	if len(sum) < 12 {
		return nil, newSecurityError("computeAuthDigest: digest shorter than 12 bytes")
	}
	return sum[:12], nil
}

// authenticateMessage zeroes msg's 12-byte auth-params slot (at
// authParamOffset), then stamps it with HMAC(Kul_auth, msg).
func authenticateMessage(proto AuthProtocol, key []byte, msg []byte, authParamOffset int) error {
	for i := 0; i < 12; i++ {
		msg[authParamOffset+i] = 0
	}
	digest, err := computeAuthDigest(proto, key, msg)
	if err != nil {
		return err
	}
	copy(msg[authParamOffset:authParamOffset+12], digest)
	return nil
}

// verifyAuthentication recomputes the HMAC over msg (with its auth-params
// slot zeroed) and compares it to received in constant time (§4.3, §7).
func verifyAuthentication(proto AuthProtocol, key []byte, msg []byte, authParamOffset int, received []byte) bool {
	zeroed := append([]byte{}, msg...)
	for i := 0; i < 12; i++ {
		zeroed[authParamOffset+i] = 0
	}
	digest, err := computeAuthDigest(proto, key, zeroed)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(digest, received) == 1
}

// encryptScopedPDU encrypts plaintext for user against sp's engine
// parameters, allocating a fresh salt and writing it into
// sp.PrivacyParameters (§4.3 "Privacy").
func encryptScopedPDU(user *User, sp *UsmSecurityParameters, plaintext []byte) ([]byte, error) {
	key, err := user.PrivKey(sp.AuthoritativeEngineID)
	if err != nil {
		return nil, err
	}
	salt := user.nextSalt(sp.AuthoritativeEngineID)

	switch user.PrivProtocol {
	case AES128, AES192, AES256:
		saltBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(saltBytes, salt)
		sp.PrivacyParameters = saltBytes

		iv := make([]byte, 16)
		binary.BigEndian.PutUint32(iv[0:4], sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:8], sp.AuthoritativeEngineTime)
		copy(iv[8:16], saltBytes)

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		stream := cipher.NewCFBEncrypter(block, iv)
		ciphertext := make([]byte, len(plaintext))
		stream.XORKeyStream(ciphertext, plaintext)
		return ciphertext, nil

	case DES:
		encKey := key[:8]
		preIV := key[8:16]
		saltBytes := make([]byte, 8)
		binary.BigEndian.PutUint32(saltBytes[0:4], sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(saltBytes[4:8], uint32(salt))
		sp.PrivacyParameters = saltBytes

		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = preIV[i] ^ saltBytes[i]
		}
		block, err := des.NewCipher(encKey)
		if err != nil {
			return nil, err
		}
		padded := plaintext
		if rem := len(padded) % des.BlockSize; rem != 0 {
			padded = append(append([]byte{}, padded...), make([]byte, des.BlockSize-rem)...)
		}
		mode := cipher.NewCBCEncrypter(block, iv)
		ciphertext := make([]byte, len(padded))
		mode.CryptBlocks(ciphertext, padded)
		return ciphertext, nil

	default:
		return nil, newSecurityError("encryptScopedPDU: unsupported privacy protocol")
	}
}

// decryptScopedPDU is the inverse of encryptScopedPDU, using the salt
// already present in sp (received on the wire).
func decryptScopedPDU(user *User, sp *UsmSecurityParameters, ciphertext []byte) ([]byte, error) {
	key, err := user.PrivKey(sp.AuthoritativeEngineID)
	if err != nil {
		return nil, err
	}

	switch user.PrivProtocol {
	case AES128, AES192, AES256:
		if len(sp.PrivacyParameters) != 8 {
			return nil, newSecurityError("decryptScopedPDU: privacy parameters must be 8 bytes")
		}
		iv := make([]byte, 16)
		binary.BigEndian.PutUint32(iv[0:4], sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:8], sp.AuthoritativeEngineTime)
		copy(iv[8:16], sp.PrivacyParameters)

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		stream := cipher.NewCFBDecrypter(block, iv)
		plaintext := make([]byte, len(ciphertext))
		stream.XORKeyStream(plaintext, ciphertext)
		return plaintext, nil

	case DES:
		if len(ciphertext)%des.BlockSize != 0 {
			return nil, newSecurityError("decryptScopedPDU: ciphertext is not a multiple of the DES block size")
		}
		if len(sp.PrivacyParameters) != 8 {
			return nil, newSecurityError("decryptScopedPDU: privacy parameters must be 8 bytes")
		}
		preIV := key[8:16]
		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = preIV[i] ^ sp.PrivacyParameters[i]
		}
		block, err := des.NewCipher(key[:8])
		if err != nil {
			return nil, err
		}
		mode := cipher.NewCBCDecrypter(block, iv)
		plaintext := make([]byte, len(ciphertext))
		mode.CryptBlocks(plaintext, ciphertext)
		return plaintext, nil

	default:
		return nil, newSecurityError("decryptScopedPDU: unsupported privacy protocol")
	}
}

// UserTable holds the configured USM users for a manager or agent,
// keyed by user name (§3 "User (USM entry)").
type UserTable struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserTable constructs an empty user table.
func NewUserTable() *UserTable {
	return &UserTable{users: make(map[string]*User)}
}

// Add registers or replaces a user.
func (t *UserTable) Add(u *User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[u.Name] = u
}

// Lookup returns the user registered under name, if any.
func (t *UserTable) Lookup(name string) (*User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[name]
	return u, ok
}

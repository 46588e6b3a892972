// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 3414 Appendix A.3 key-localization test vectors: password
// "maplesyrup" localized against engineID 000000000000000000000002.
func TestLocalizeKeyRFC3414Vectors(t *testing.T) {
	engineID, err := hex.DecodeString("000000000000000000000002")
	require.NoError(t, err)

	md5Key, err := localizeKey(MD5, "maplesyrup", string(engineID))
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "526f5eed9fcce26f8964c29307 87d82b"), md5Key)

	sha1Key, err := localizeKey(SHA1, "maplesyrup", string(engineID))
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "6695febc9288e36282235fc7151f128497b38f3f"), sha1Key)
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	clean := make([]byte, 0, len(s))
	for _, r := range s {
		if r == ' ' {
			continue
		}
		clean = append(clean, byte(r))
	}
	b, err := hex.DecodeString(string(clean))
	require.NoError(t, err)
	return b
}

func TestAuthKeyLengthMatchesDigest(t *testing.T) {
	lengths := map[AuthProtocol]int{
		MD5: 16, SHA1: 20, SHA224: 28, SHA256: 32, SHA384: 48, SHA512: 64,
	}
	for proto, want := range lengths {
		key, err := localizeKey(proto, "somepassword", "engine-id-bytes")
		require.NoError(t, err)
		assert.Len(t, key, want)
	}
}

func TestExtendKeyTruncatesOrExtends(t *testing.T) {
	base, err := localizeKey(MD5, "somepassword", "engine-id-bytes")
	require.NoError(t, err)

	k16 := extendKey(MD5, base, 16)
	assert.Len(t, k16, 16)
	assert.Equal(t, base[:16], k16)

	k24 := extendKey(MD5, base, 24)
	assert.Len(t, k24, 24)
	assert.Equal(t, base, k24[:16], "extension must preserve the original key as a prefix")
}

func TestComputeAuthDigestIs12Bytes(t *testing.T) {
	key, err := localizeKey(SHA256, "somepassword", "engine-id-bytes")
	require.NoError(t, err)
	digest, err := computeAuthDigest(SHA256, key, []byte("hello, snmp"))
	require.NoError(t, err)
	assert.Len(t, digest, 12)
}

func TestVerifyAuthenticationRejectsTamperedMessage(t *testing.T) {
	key, err := localizeKey(MD5, "somepassword", "engine-id-bytes")
	require.NoError(t, err)

	msg := make([]byte, 32)
	for i := range msg {
		msg[i] = byte(i)
	}
	authOffset := 10
	require.NoError(t, authenticateMessage(MD5, key, msg, authOffset))
	assert.True(t, verifyAuthentication(MD5, key, msg, authOffset, msg[authOffset:authOffset+12]))

	tampered := append([]byte{}, msg...)
	tampered[0] ^= 0xff
	assert.False(t, verifyAuthentication(MD5, key, tampered, authOffset, msg[authOffset:authOffset+12]))
}

func TestEncryptDecryptScopedPDU_AES128(t *testing.T) {
	user := NewUser("alice", SHA1, "authpassword", AES128, "privpassword")
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    "engine-id-bytes",
		AuthoritativeEngineBoots: 1,
		AuthoritativeEngineTime:  42,
	}
	plaintext := []byte("scoped pdu content, arbitrary length")

	ciphertext, err := encryptScopedPDU(user, sp, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.Len(t, sp.PrivacyParameters, 8)

	decrypted, err := decryptScopedPDU(user, sp, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptDecryptScopedPDU_DES(t *testing.T) {
	user := NewUser("bob", MD5, "authpassword", DES, "privpassword")
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    "engine-id-bytes",
		AuthoritativeEngineBoots: 7,
		AuthoritativeEngineTime:  99,
	}
	plaintext := []byte("eight byte aligned content here")

	ciphertext, err := encryptScopedPDU(user, sp, plaintext)
	require.NoError(t, err)
	assert.Len(t, sp.PrivacyParameters, 8)

	decrypted, err := decryptScopedPDU(user, sp, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted[:len(plaintext)])
}

func TestNextSaltIsMonotonic(t *testing.T) {
	user := NewUser("carol", SHA1, "authpassword", AES128, "privpassword")
	a := user.nextSalt("engine-1")
	b := user.nextSalt("engine-1")
	assert.Equal(t, a+1, b)
}

// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package nsnmp

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestEncodeOIDGolden(t *testing.T) {
	oid := MustParseOID("1.3.6.1.2.1.1.1.0")
	got, err := EncodeOID(oid)
	require.NoError(t, err)
	want := hexBytes(t, "06082b0601020101010100")
	assert.Equal(t, want, got)
}

func TestDecodeOIDRoundTrip(t *testing.T) {
	cases := []string{
		"1.3.6.1.2.1.1.1.0",
		"0.0",
		"2.999.3.4.5",
		"1.3.6.1.4.1.8072.3.2.10",
	}
	for _, s := range cases {
		oid := MustParseOID(s)
		encoded, err := EncodeOID(oid)
		require.NoError(t, err)
		decoded, n, err := DecodeOID(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)
		if diff := cmp.Diff(oid, decoded); diff != "" {
			t.Errorf("round trip mismatch for %s (-want +got):\n%s", s, diff)
		}
	}
}

func TestIntegerEncodingIsMinimal(t *testing.T) {
	cases := []struct {
		v    int64
		want string
	}{
		{0, "00"},
		{127, "7f"},
		{128, "0080"},
		{-1, "ff"},
		{-128, "80"},
		{-129, "ff7f"},
		{256, "0100"},
		{-256, "ff00"},
	}
	for _, c := range cases {
		got := minimalBigEndian(c.v)
		assert.Equal(t, hexBytes(t, c.want), got, "minimalBigEndian(%d)", c.v)

		back, err := decodeInteger(got)
		require.NoError(t, err)
		assert.Equal(t, c.v, back, "round trip for %d", c.v)
	}
}

func TestDecodeIntegerRejectsNonMinimal(t *testing.T) {
	_, err := decodeInteger(hexBytes(t, "007f"))
	assert.Error(t, err)
	_, err = decodeInteger(hexBytes(t, "ff80"))
	assert.Error(t, err)
}

func TestDecodeLengthRejectsIndefiniteForm(t *testing.T) {
	_, _, err := decodeLength([]byte{0x80})
	assert.Error(t, err)
}

func TestDecodeLengthRejectsOversizedLength(t *testing.T) {
	old := MaxBERLength
	defer func() { MaxBERLength = old }()
	MaxBERLength = 10
	_, _, err := decodeLength([]byte{0x82, 0x00, 0x20})
	assert.Error(t, err)
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		tag   Asn1BER
		value interface{}
	}{
		{"integer", IntegerType, int32(-42)},
		{"octet-string", OctetStringType, []byte("public")},
		{"ip-address", IPAddress, net.IPv4(192, 0, 2, 1)},
		{"counter32", Counter32, uint32(4294967295)},
		{"gauge32", Gauge32, uint32(12345)},
		{"timeticks", TimeTicks, uint32(987654)},
		{"counter64", Counter64, uint64(18446744073709551615)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := EncodeValue(c.tag, c.value)
			require.NoError(t, err)
			tag, value, n, err := DecodeValue(encoded)
			require.NoError(t, err)
			assert.Equal(t, c.tag, tag)
			assert.Equal(t, len(encoded), n)
			if ip, ok := c.value.(net.IP); ok {
				assert.True(t, ip.Equal(value.(net.IP)))
			} else if diff := cmp.Diff(c.value, value); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGaugeClampsOnDecode(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), ClampGauge32(1<<40))
}

func TestDecodeValueUnknownTagPreservesRawBytes(t *testing.T) {
	raw := append([]byte{byte(0xa9), 0x02}, []byte{0x01, 0x02}...)
	tag, value, n, err := DecodeValue(raw)
	require.NoError(t, err)
	assert.Equal(t, Asn1BER(0xa9), tag)
	assert.Equal(t, len(raw), n)
	rv, ok := value.(RawValue)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, rv.Bytes)
}

func TestDecodeTLVBytesRejectsExtendedTagNumbers(t *testing.T) {
	_, _, _, err := decodeTLVBytes([]byte{0x1f, 0x01, 0x00})
	assert.Error(t, err)
}

func TestDecodeTLVBytesRejectsTruncatedInput(t *testing.T) {
	_, _, _, err := decodeTLVBytes([]byte{0x04, 0x05, 0x01})
	assert.Error(t, err)
}

package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Sequence:           7,
		RecordID:           42,
		TimestampEpochSec:  1704200000,
		TimestampMillis:    123,
		RawTempMilliC:      21345,
		TempMilliC:         21000,
		ResistanceMilliOhm: 110250,
		Flags:              FlagTimeValid | FlagCalValid,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := sampleRecord()
	wire := Encode(r)
	require.Len(t, wire, Size)

	got, err := Decode(wire[:])
	require.NoError(t, err)

	want := r
	want.Magic = Magic
	want.SchemaVersion = SchemaVersion
	want.CRC16 = got.CRC16 // computed value, compared structurally below

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode(encode(r)) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	wire := Encode(sampleRecord())
	wire[0] ^= 0xFF

	got, err := Decode(wire[:])
	require.ErrorIs(t, err, ErrBadMagic)
	// Even on failure the decoded fields are populated from raw bytes.
	require.Equal(t, uint16(SchemaVersion), got.SchemaVersion)
}

func TestDecodeBadSchema(t *testing.T) {
	wire := Encode(sampleRecord())
	wire[4] = 0xAA
	wire[5] = 0xAA

	_, err := Decode(wire[:])
	require.ErrorIs(t, err, ErrBadSchema)
}

func TestDecodeBadCRC(t *testing.T) {
	wire := Encode(sampleRecord())
	wire[Size-1] ^= 0xFF

	_, err := Decode(wire[:])
	require.ErrorIs(t, err, ErrBadCRC)
}

func TestDecodeWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	require.Error(t, err)
}

func TestChecksumCCITTFalseKnownVector(t *testing.T) {
	// "123456789" -> 0x29B1 is the standard CRC-16/CCITT-FALSE check value.
	got := ChecksumCCITTFalse([]byte("123456789"))
	require.Equal(t, uint16(0x29B1), got)
}

// Package codec implements fixed-size, little-endian (de)serialization of
// sensor records with CRC-16/CCITT-FALSE framing and magic/schema
// validation. A Record's wire size is a compile-time constant for a given
// SchemaVersion.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the constant leading every encoded record.
const Magic uint32 = 0x544C4F47

// SchemaVersion is the compiled schema version new records are stamped
// with, and the value Decode requires a record to match.
const SchemaVersion uint16 = 1

// Flag bits carried in Record.Flags.
const (
	FlagTimeValid    uint16 = 1 << 0
	FlagCalValid     uint16 = 1 << 1
	FlagSDError      uint16 = 1 << 2
	FlagMeshConnected uint16 = 1 << 3
	FlagSensorFault  uint16 = 1 << 4
	FlagFramFull     uint16 = 1 << 5
)

// Size is the fixed on-the-wire size of an encoded Record, in bytes.
//
//	magic(4) + schema_version(2) + sequence(4) + record_id(8) +
//	timestamp_epoch_sec(8) + timestamp_millis(4) + raw_temp_milli_c(4) +
//	temp_milli_c(4) + resistance_milli_ohm(4) + flags(2) + crc16(2)
const Size = 4 + 2 + 4 + 8 + 8 + 4 + 4 + 4 + 4 + 2 + 2

// Record is a single fixed-size sensor sample. Sequence, RecordID, Magic,
// SchemaVersion and CRC16 are assigned by the ring/codec, never by the
// producer.
type Record struct {
	Magic              uint32
	SchemaVersion      uint16
	Sequence           uint32
	RecordID           uint64
	TimestampEpochSec  int64
	TimestampMillis    int32
	RawTempMilliC      int32
	TempMilliC         int32
	ResistanceMilliOhm int32
	Flags              uint16
	CRC16              uint16
}

// Error kinds returned by Decode. They are sentinel values, compare with
// errors.Is.
var (
	ErrBadMagic  = errors.New("codec: bad magic")
	ErrBadSchema = errors.New("codec: bad schema version")
	ErrBadCRC    = errors.New("codec: crc16 mismatch")
)

// Encode fills Magic, SchemaVersion and CRC16 on a copy of r and returns
// its fixed-length little-endian wire representation.
func Encode(r Record) [Size]byte {
	r.Magic = Magic
	r.SchemaVersion = SchemaVersion

	var buf [Size]byte
	putFields(&buf, r, 0 /* crc field zeroed for computation */)
	r.CRC16 = ChecksumCCITTFalse(buf[:])
	putFields(&buf, r, r.CRC16)
	return buf
}

// Decode unpacks a fixed-size wire record. The returned Record is always
// fully populated from the raw bytes, even when err is non-nil, so callers
// can inspect a corrupt record for diagnostics — they must treat it as
// untrusted in that case.
func Decode(data []byte) (Record, error) {
	if len(data) != Size {
		return Record{}, fmt.Errorf("codec: decode: want %d bytes, got %d", Size, len(data))
	}

	var buf [Size]byte
	copy(buf[:], data)

	r := Record{
		Magic:              binary.LittleEndian.Uint32(buf[0:4]),
		SchemaVersion:      binary.LittleEndian.Uint16(buf[4:6]),
		Sequence:           binary.LittleEndian.Uint32(buf[6:10]),
		RecordID:           binary.LittleEndian.Uint64(buf[10:18]),
		TimestampEpochSec:  int64(binary.LittleEndian.Uint64(buf[18:26])),
		TimestampMillis:    int32(binary.LittleEndian.Uint32(buf[26:30])),
		RawTempMilliC:      int32(binary.LittleEndian.Uint32(buf[30:34])),
		TempMilliC:         int32(binary.LittleEndian.Uint32(buf[34:38])),
		ResistanceMilliOhm: int32(binary.LittleEndian.Uint32(buf[38:42])),
		Flags:              binary.LittleEndian.Uint16(buf[42:44]),
		CRC16:              binary.LittleEndian.Uint16(buf[44:46]),
	}

	zeroed := buf
	binary.LittleEndian.PutUint16(zeroed[44:46], 0)
	wantCRC := ChecksumCCITTFalse(zeroed[:])

	switch {
	case r.Magic != Magic:
		return r, ErrBadMagic
	case r.SchemaVersion != SchemaVersion:
		return r, ErrBadSchema
	case r.CRC16 != wantCRC:
		return r, ErrBadCRC
	}
	return r, nil
}

// putFields writes every field of r into buf in wire order, using crc as
// the value for the trailing CRC16 field (callers pass 0 to compute the
// checksum, then the real value to finalize the buffer).
func putFields(buf *[Size]byte, r Record, crc uint16) {
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], r.SchemaVersion)
	binary.LittleEndian.PutUint32(buf[6:10], r.Sequence)
	binary.LittleEndian.PutUint64(buf[10:18], r.RecordID)
	binary.LittleEndian.PutUint64(buf[18:26], uint64(r.TimestampEpochSec))
	binary.LittleEndian.PutUint32(buf[26:30], uint32(r.TimestampMillis))
	binary.LittleEndian.PutUint32(buf[30:34], uint32(r.RawTempMilliC))
	binary.LittleEndian.PutUint32(buf[34:38], uint32(r.TempMilliC))
	binary.LittleEndian.PutUint32(buf[38:42], uint32(r.ResistanceMilliOhm))
	binary.LittleEndian.PutUint16(buf[42:44], r.Flags)
	binary.LittleEndian.PutUint16(buf[44:46], crc)
}

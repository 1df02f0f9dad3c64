package ring

import (
	"encoding/binary"
	"hash/crc32"
)

// headerMagic identifies a valid DurableRing header.
const headerMagic uint32 = 0x46524C47

// headerVersion is the compiled on-disk layout version.
const headerVersion uint32 = 1

// Fixed NVRAM offsets for the two header copies and the start of the
// record slot area (spec.md §3 "DurableRing header").
const (
	offsetH0     = 0
	offsetH1     = 128
	offsetSlots  = 256
	headerLength = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 8 + 4 // magic..crc32
)

// header is the in-memory representation of one ring header copy.
type header struct {
	Magic        uint32
	Version      uint32
	Generation   uint32
	WriteIndex   uint32
	ReadIndex    uint32
	RecordCount  uint32
	NextSequence uint32
	NextRecordID uint64
	CRC32        uint32
}

func encodeHeader(h header) [headerLength]byte {
	var buf [headerLength]byte
	putHeaderFields(&buf, h, 0)
	h.CRC32 = crc32.ChecksumIEEE(buf[:])
	putHeaderFields(&buf, h, h.CRC32)
	return buf
}

func putHeaderFields(buf *[headerLength]byte, h header, crc uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Generation)
	binary.LittleEndian.PutUint32(buf[12:16], h.WriteIndex)
	binary.LittleEndian.PutUint32(buf[16:20], h.ReadIndex)
	binary.LittleEndian.PutUint32(buf[20:24], h.RecordCount)
	binary.LittleEndian.PutUint32(buf[24:28], h.NextSequence)
	binary.LittleEndian.PutUint64(buf[28:36], h.NextRecordID)
	binary.LittleEndian.PutUint32(buf[36:40], crc)
}

// decodeHeader unpacks a header and reports whether it is valid (magic,
// version and crc32 all pass).
func decodeHeader(data []byte) (header, bool) {
	if len(data) != headerLength {
		return header{}, false
	}
	var buf [headerLength]byte
	copy(buf[:], data)

	h := header{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Version:      binary.LittleEndian.Uint32(buf[4:8]),
		Generation:   binary.LittleEndian.Uint32(buf[8:12]),
		WriteIndex:   binary.LittleEndian.Uint32(buf[12:16]),
		ReadIndex:    binary.LittleEndian.Uint32(buf[16:20]),
		RecordCount:  binary.LittleEndian.Uint32(buf[20:24]),
		NextSequence: binary.LittleEndian.Uint32(buf[24:28]),
		NextRecordID: binary.LittleEndian.Uint64(buf[28:36]),
		CRC32:        binary.LittleEndian.Uint32(buf[36:40]),
	}

	zeroed := buf
	binary.LittleEndian.PutUint32(zeroed[36:40], 0)
	wantCRC := crc32.ChecksumIEEE(zeroed[:])

	valid := h.Magic == headerMagic && h.Version == headerVersion && h.CRC32 == wantCRC
	return h, valid
}

func headerOffset(copyIndex int) uint32 {
	if copyIndex == 0 {
		return offsetH0
	}
	return offsetH1
}

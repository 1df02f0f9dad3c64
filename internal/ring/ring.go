// Package ring implements DurableRing: a CRC-32 protected, dual-header
// ring buffer of fixed-size records in byte-addressable NVRAM. It assigns
// monotonic sequence and record_id counters and is the single durable
// staging area between the producer and removable media (spec.md §4.3).
package ring

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
)

// Error kinds (spec.md §7 taxonomy).
var (
	ErrBadSize     = errors.New("ring: capacity < 1")
	ErrEmpty       = errors.New("ring: empty")
	ErrCorrupt     = errors.New("ring: corrupt slot")
	ErrOutOfRange  = errors.New("ring: offset out of range")
	ErrNvIo        = errors.New("ring: nvram io failure")
)

// DefaultPersistEvery is the default number of assign_ids calls between
// header persists on the append hot path (spec.md §4.3 "N configurable,
// default small").
const DefaultPersistEvery = 8

// Ring is a CRC-32 protected dual-header ring buffer over an nvblock.Device.
// Mutated only by the owning FlushEngine; not safe for concurrent use from
// multiple goroutines (the producer never touches it directly, spec.md §5).
type Ring struct {
	nv     nvblock.Device
	log    *zap.Logger
	cap    uint32
	persistEvery uint32

	generation   uint32
	copyIndex    int // which header copy (0/1) is currently authoritative
	writeIndex   uint32
	readIndex    uint32
	recordCount  uint32
	nextSequence uint32
	nextRecordID uint64

	assignsSincePersist uint32
	overrunRecordsTotal uint64
	sawCorruption       bool
}

// Open probes both header copies, recovers ring state per spec.md §4.3's
// open/recovery algorithm, and returns a ready Ring.
func Open(nv nvblock.Device, log *zap.Logger) (*Ring, error) {
	if log == nil {
		log = zap.NewNop()
	}
	size := nv.Size()
	if size <= offsetSlots {
		return nil, fmt.Errorf("ring: %w: nvram too small for any slot", ErrBadSize)
	}
	capacity := (size - offsetSlots) / codec.Size
	if capacity < 1 {
		return nil, fmt.Errorf("ring: %w: capacity=%d", ErrBadSize, capacity)
	}

	r := &Ring{nv: nv, log: log, cap: capacity, persistEvery: DefaultPersistEvery}

	raw0, err0 := nv.ReadAt(offsetH0, headerLength)
	raw1, err1 := nv.ReadAt(offsetH1, headerLength)
	if err0 != nil || err1 != nil {
		return nil, fmt.Errorf("%w: reading headers: %v / %v", ErrNvIo, err0, err1)
	}
	h0, valid0 := decodeHeader(raw0)
	h1, valid1 := decodeHeader(raw1)

	switch {
	case !valid0 && !valid1:
		log.Warn("ring: both header copies invalid, rebuilding from slot scan")
		if err := r.rebuildFromSlotScan(); err != nil {
			return nil, err
		}
	case valid0 && !valid1:
		r.adopt(h0, 0)
	case valid1 && !valid0:
		r.adopt(h1, 1)
	default:
		if h0.Generation >= h1.Generation {
			r.adopt(h0, 0)
		} else {
			r.adopt(h1, 1)
		}
	}

	// Clamp record_count <= capacity.
	if r.recordCount > r.cap {
		r.readIndex = r.writeIndex - r.cap
		r.recordCount = r.cap
	}

	// Walk [read_index, write_index) and raise counters past anything
	// actually present, regardless of what the header claimed.
	for k := r.readIndex; k < r.writeIndex; k++ {
		rec, ok := r.readSlot(k)
		if !ok {
			continue
		}
		if rec.Sequence+1 > r.nextSequence {
			r.nextSequence = rec.Sequence + 1
		}
		if rec.RecordID+1 > r.nextRecordID {
			r.nextRecordID = rec.RecordID + 1
		}
	}

	return r, nil
}

func (r *Ring) adopt(h header, copyIndex int) {
	r.generation = h.Generation
	r.copyIndex = copyIndex
	r.writeIndex = h.WriteIndex
	r.readIndex = h.ReadIndex
	r.recordCount = h.RecordCount
	r.nextSequence = h.NextSequence
	r.nextRecordID = h.NextRecordID
}

// rebuildFromSlotScan handles the "both headers invalid" recovery branch:
// scan every slot, find the maximum valid record_id, and start a fresh
// ring with an empty window past it.
func (r *Ring) rebuildFromSlotScan() error {
	var maxID uint64
	var sawAny bool
	for k := uint32(0); k < r.cap; k++ {
		rec, ok := r.readSlot(k)
		if !ok {
			continue
		}
		sawAny = true
		if rec.RecordID > maxID {
			maxID = rec.RecordID
		}
	}

	r.nextRecordID = 1
	if sawAny {
		r.nextRecordID = maxID + 1
	}
	r.nextSequence = 1
	r.writeIndex = 0
	r.readIndex = 0
	r.recordCount = 0

	// Pretend we last persisted copy 1, generation 0, so the normal
	// persist-to-the-other-copy path writes a fresh header to copy 0.
	r.copyIndex = 1
	r.generation = 0
	if err := r.persistHeader(); err != nil {
		return fmt.Errorf("ring: rebuild: %w", err)
	}
	return nil
}

// readSlot reads and decodes the record at abstract index k (physical slot
// k mod capacity), returning ok=false if the read or decode fails.
func (r *Ring) readSlot(k uint32) (codec.Record, bool) {
	slot := k % r.cap
	addr := offsetSlots + slot*codec.Size
	data, err := r.nv.ReadAt(addr, codec.Size)
	if err != nil {
		return codec.Record{}, false
	}
	rec, err := codec.Decode(data)
	if err != nil {
		return rec, false
	}
	return rec, true
}

// persistHeader builds a new header (generation = current+1), writes it to
// the other copy's address, reads it back, and only adopts it once
// verified. Alternation of copies across persists is mandatory: it is what
// makes torn writes recoverable.
func (r *Ring) persistHeader() error {
	nextGen := r.generation + 1
	nextCopy := 1 - r.copyIndex

	h := header{
		Magic:        headerMagic,
		Version:      headerVersion,
		Generation:   nextGen,
		WriteIndex:   r.writeIndex,
		ReadIndex:    r.readIndex,
		RecordCount:  r.recordCount,
		NextSequence: r.nextSequence,
		NextRecordID: r.nextRecordID,
	}
	wire := encodeHeader(h)

	addr := headerOffset(nextCopy)
	if err := r.nv.WriteAt(addr, wire[:]); err != nil {
		return fmt.Errorf("%w: writing header copy %d: %v", ErrNvIo, nextCopy, err)
	}

	readBack, err := r.nv.ReadAt(addr, headerLength)
	if err != nil {
		return fmt.Errorf("%w: reading back header copy %d: %v", ErrNvIo, nextCopy, err)
	}
	got, valid := decodeHeader(readBack)
	if !valid || got.Generation != nextGen {
		r.log.Error("ring: header persist readback mismatch, old copy remains authoritative",
			zap.Int("copy", nextCopy))
		return fmt.Errorf("%w: persisted header failed readback validation", ErrNvIo)
	}

	r.generation = nextGen
	r.copyIndex = nextCopy
	r.assignsSincePersist = 0
	return nil
}

// Capacity returns the number of record slots.
func (r *Ring) Capacity() uint32 { return r.cap }

// Count returns the number of buffered records.
func (r *Ring) Count() uint32 { return r.recordCount }

// NextSequence returns the sequence that will be assigned to the next
// appended record.
func (r *Ring) NextSequence() uint32 { return r.nextSequence }

// NextRecordID returns the record_id that will be assigned to the next
// appended record.
func (r *Ring) NextRecordID() uint64 { return r.nextRecordID }

// OverrunRecordsTotal is the number of records dropped to make room for a
// new append while the ring was full.
func (r *Ring) OverrunRecordsTotal() uint64 { return r.overrunRecordsTotal }

// SawCorruption reports whether a CRC/magic/schema failure has ever been
// observed by this ring instance.
func (r *Ring) SawCorruption() bool { return r.sawCorruption }

// Append assigns sequence/record_id/magic/schema/crc to partial and
// persists it to the ring, overwriting the oldest record if the ring is
// full (spec.md §9: overwrite-oldest with accounting).
func (r *Ring) Append(partial codec.Record) (codec.Record, error) {
	partial.Sequence = r.nextSequence
	partial.RecordID = r.nextRecordID
	r.nextSequence++
	r.nextRecordID++

	r.assignsSincePersist++
	if r.assignsSincePersist >= r.persistEvery {
		if err := r.persistHeader(); err != nil {
			// Counters have already advanced in memory; the next
			// successful persist will catch up. Propagate so the
			// engine can retry next tick (spec.md §7 NvIo: "retried
			// by the caller next tick").
			return codec.Record{}, err
		}
	}

	if r.recordCount == r.cap {
		r.readIndex++
		r.recordCount--
		r.overrunRecordsTotal++
	}

	wire := codec.Encode(partial)
	slot := r.writeIndex % r.cap
	addr := offsetSlots + slot*codec.Size
	if err := r.nv.WriteAt(addr, wire[:]); err != nil {
		return codec.Record{}, fmt.Errorf("%w: writing slot %d: %v", ErrNvIo, slot, err)
	}
	r.writeIndex++
	r.recordCount++

	assigned, _ := codec.Decode(wire[:])
	return assigned, nil
}

// PeekOldest copies the record at the head of the ring without removing
// it.
func (r *Ring) PeekOldest() (codec.Record, error) {
	return r.PeekOffset(0)
}

// PeekOffset copies the record at read_index+k without removing it.
func (r *Ring) PeekOffset(k uint32) (codec.Record, error) {
	if r.recordCount == 0 {
		return codec.Record{}, ErrEmpty
	}
	if k >= r.recordCount {
		return codec.Record{}, ErrOutOfRange
	}
	rec, ok := r.readSlot(r.readIndex + k)
	if !ok {
		r.sawCorruption = true
		return codec.Record{}, ErrCorrupt
	}
	return rec, nil
}

// DiscardOldest advances the read cursor past the oldest record and
// persists the header immediately.
func (r *Ring) DiscardOldest() error {
	if r.recordCount == 0 {
		return ErrEmpty
	}
	r.readIndex++
	r.recordCount--
	if err := r.persistHeader(); err != nil {
		return err
	}
	return nil
}

// SkipCorruptOldest advances past one slot regardless of validity,
// persists the header, and marks the ring as having seen corruption. The
// ring never silently drops a slot without the caller choosing to do so.
func (r *Ring) SkipCorruptOldest() error {
	if r.recordCount == 0 {
		return ErrEmpty
	}
	r.readIndex++
	r.recordCount--
	r.sawCorruption = true
	if err := r.persistHeader(); err != nil {
		return err
	}
	return nil
}

// ConsumeUpTo pops from the head of the ring while the head record's
// record_id is <= bound, stopping at the first corrupt slot. It returns
// the number of records consumed.
func (r *Ring) ConsumeUpTo(bound uint64) (uint32, error) {
	var consumed uint32
	for r.recordCount > 0 {
		rec, ok := r.readSlot(r.readIndex)
		if !ok {
			r.sawCorruption = true
			if consumed > 0 {
				if err := r.persistHeader(); err != nil {
					return consumed, err
				}
			}
			return consumed, ErrCorrupt
		}
		if rec.RecordID > bound {
			break
		}
		r.readIndex++
		r.recordCount--
		consumed++
	}
	if consumed > 0 {
		if err := r.persistHeader(); err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

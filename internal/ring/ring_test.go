package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
)

func newTestRing(t *testing.T, capacity uint32) (*Ring, nvblock.Device) {
	t.Helper()
	size := offsetSlots + capacity*codec.Size
	nv := nvblock.NewMemDevice(size)
	r, err := Open(nv, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, capacity, r.Capacity())
	return r, nv
}

func mkRecord(epoch int64) codec.Record {
	return codec.Record{TimestampEpochSec: epoch, TempMilliC: 21000}
}

func TestOpenFreshDeviceIsEmpty(t *testing.T) {
	r, _ := newTestRing(t, 4)
	require.Equal(t, uint32(0), r.Count())
	require.Equal(t, uint32(1), r.NextSequence())
	require.Equal(t, uint64(1), r.NextRecordID())
}

func TestAppendThenPeekOldestInitiallyEmpty(t *testing.T) {
	r, _ := newTestRing(t, 4)
	assigned, err := r.Append(mkRecord(1000))
	require.NoError(t, err)

	got, err := r.PeekOldest()
	require.NoError(t, err)
	require.Equal(t, assigned.RecordID, got.RecordID)
	require.Equal(t, assigned.Sequence, got.Sequence)
	require.Equal(t, assigned.TimestampEpochSec, got.TimestampEpochSec)
}

func TestRecordCountInvariant(t *testing.T) {
	r, _ := newTestRing(t, 4)
	for i := 0; i < 3; i++ {
		_, err := r.Append(mkRecord(int64(i)))
		require.NoError(t, err)
	}
	require.Equal(t, uint32(3), r.Count())
}

func TestAppendAtCapacityOverwritesOldest(t *testing.T) {
	r, _ := newTestRing(t, 4)
	for i := 0; i < 4; i++ {
		_, err := r.Append(mkRecord(int64(i)))
		require.NoError(t, err)
	}
	require.Equal(t, uint32(4), r.Count())
	require.Equal(t, uint64(0), r.OverrunRecordsTotal())

	_, err := r.Append(mkRecord(99))
	require.NoError(t, err)
	require.Equal(t, uint32(4), r.Count(), "record_count preserved at capacity")
	require.Equal(t, uint64(1), r.OverrunRecordsTotal())

	oldest, err := r.PeekOldest()
	require.NoError(t, err)
	require.Equal(t, int64(1), oldest.TimestampEpochSec, "slot 0 was overwritten")
}

func TestDiscardOldestAdvancesCursor(t *testing.T) {
	r, _ := newTestRing(t, 4)
	_, err := r.Append(mkRecord(1))
	require.NoError(t, err)
	_, err = r.Append(mkRecord(2))
	require.NoError(t, err)

	require.NoError(t, r.DiscardOldest())
	require.Equal(t, uint32(1), r.Count())

	got, err := r.PeekOldest()
	require.NoError(t, err)
	require.Equal(t, int64(2), got.TimestampEpochSec)
}

func TestDiscardOldestEmptyErrors(t *testing.T) {
	r, _ := newTestRing(t, 4)
	require.ErrorIs(t, r.DiscardOldest(), ErrEmpty)
}

func TestConsumeUpToIdempotent(t *testing.T) {
	r, _ := newTestRing(t, 4)
	var lastID uint64
	for i := 0; i < 3; i++ {
		assigned, err := r.Append(mkRecord(int64(i)))
		require.NoError(t, err)
		lastID = assigned.RecordID
	}

	n, err := r.ConsumeUpTo(lastID)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)
	require.Equal(t, uint32(0), r.Count())

	n2, err := r.ConsumeUpTo(lastID)
	require.NoError(t, err)
	require.Equal(t, uint32(0), n2, "second call consumes nothing")
}

func TestPeekOffsetOutOfRange(t *testing.T) {
	r, _ := newTestRing(t, 4)
	_, err := r.Append(mkRecord(1))
	require.NoError(t, err)

	_, err = r.PeekOffset(5)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSkipCorruptOldestMarksSawCorruption(t *testing.T) {
	r, nv := newTestRing(t, 4)
	_, err := r.Append(mkRecord(1))
	require.NoError(t, err)

	// Corrupt the head slot directly on the device.
	require.NoError(t, nv.WriteAt(offsetSlots, make([]byte, codec.Size)))

	_, err = r.PeekOldest()
	require.ErrorIs(t, err, ErrCorrupt)
	require.True(t, r.SawCorruption())

	require.NoError(t, r.SkipCorruptOldest())
	require.Equal(t, uint32(0), r.Count())
}

func TestReopenPreservesMonotonicRecordID(t *testing.T) {
	capacity := uint32(8)
	size := offsetSlots + capacity*codec.Size
	nv := nvblock.NewMemDevice(size)

	r, err := Open(nv, zap.NewNop())
	require.NoError(t, err)

	var lastID uint64
	for i := 0; i < 100; i++ {
		assigned, err := r.Append(mkRecord(int64(i)))
		require.NoError(t, err)
		lastID = assigned.RecordID
	}
	preRebootNext := r.NextRecordID()

	r2, err := Open(nv, zap.NewNop())
	require.NoError(t, err)
	require.GreaterOrEqual(t, r2.NextRecordID(), preRebootNext)

	for k := uint32(0); k < r2.Count(); k++ {
		rec, err := r2.PeekOffset(k)
		require.NoError(t, err)
		require.Less(t, rec.RecordID, r2.NextRecordID())
	}
	require.GreaterOrEqual(t, r2.NextRecordID(), lastID+1)
}

func TestOpenBothHeadersInvalidRebuildsFromSlotScan(t *testing.T) {
	capacity := uint32(4)
	size := offsetSlots + capacity*codec.Size
	nv := nvblock.NewMemDevice(size)

	r, err := Open(nv, zap.NewNop())
	require.NoError(t, err)
	var lastID uint64
	for i := 0; i < 3; i++ {
		assigned, err := r.Append(mkRecord(int64(i)))
		require.NoError(t, err)
		lastID = assigned.RecordID
	}
	// Force a header persist, then stomp both header copies to simulate
	// total header loss; the slots Append wrote stay on the device.
	require.NoError(t, r.persistHeader())
	require.NoError(t, nv.WriteAt(offsetH0, make([]byte, headerLength)))
	require.NoError(t, nv.WriteAt(offsetH1, make([]byte, headerLength)))

	r2, err := Open(nv, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, lastID+1, r2.NextRecordID())
	require.Equal(t, uint32(0), r2.Count(), "rebuilt ring starts with an empty window")
}

func TestOpenBadSizeTooSmall(t *testing.T) {
	nv := nvblock.NewMemDevice(offsetSlots)
	_, err := Open(nv, zap.NewNop())
	require.ErrorIs(t, err, ErrBadSize)
}

func TestPersistHeaderAlternatesCopies(t *testing.T) {
	r, nv := newTestRing(t, 4)
	startCopy := r.copyIndex
	require.NoError(t, r.persistHeader())
	require.NotEqual(t, startCopy, r.copyIndex)

	// The other copy should now decode as valid with the higher generation.
	raw, err := nv.ReadAt(headerOffset(r.copyIndex), headerLength)
	require.NoError(t, err)
	h, valid := decodeHeader(raw)
	require.True(t, valid)
	require.Equal(t, r.generation, h.Generation)
}

package flushengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
	"github.com/rasusmilch/pt100-datalogger/internal/sink"
)

const day20240102 int64 = 1704153600 // 2024-01-02T00:00:00Z

func newTestEngine(t *testing.T, capacity uint32, watermark uint32) (*Engine, *ring.Ring, *dayfile.DayFile, string) {
	t.Helper()
	nv := nvblock.NewMemDevice(256 + capacity*codec.Size)
	r, err := ring.Open(nv, zap.NewNop())
	require.NoError(t, err)

	dir := t.TempDir()
	df := dayfile.New(dir, "node-1", codec.SchemaVersion, 4096, time.UTC, zap.NewNop())
	t.Cleanup(func() { df.Close() })

	e, err := New(Options{
		Ring:              r,
		DayFile:           df,
		Sink:              &sink.CountingSink{},
		Log:               zap.NewNop(),
		NodeID:            "node-1",
		Location:          time.UTC,
		QueueCapacity:     16,
		WatermarkRecords:  watermark,
		FlushPeriod:       time.Hour, // tests drive flushes explicitly
		BatchBytesTarget:  4096,
		MaxRecordsPerPass: 256,
		BackoffInitial:    50 * time.Millisecond,
		BackoffMax:        200 * time.Millisecond,
	})
	require.NoError(t, err)
	return e, r, df, dir
}

func appendRecord(t *testing.T, r *ring.Ring, epoch int64, rawRTD, rawC, calC int32) codec.Record {
	t.Helper()
	rec, err := r.Append(codec.Record{
		TimestampEpochSec:  epoch,
		ResistanceMilliOhm: rawRTD,
		RawTempMilliC:      rawC,
		TempMilliC:         calC,
		Flags:              codec.FlagTimeValid | codec.FlagCalValid,
	})
	require.NoError(t, err)
	return rec
}

// Scenario 1 (spec.md §8): clean append-then-flush.
func TestCleanAppendThenFlush(t *testing.T) {
	e, r, _, dir := newTestEngine(t, 4, 2)

	for i := 0; i < 4; i++ {
		appendRecord(t, r, day20240102+int64(i), 100000, 20000, 20000)
	}
	require.Equal(t, uint32(4), r.Count())

	e.runFlushPass(time.Unix(day20240102, 0))

	require.Equal(t, uint32(0), r.Count())
	require.Equal(t, uint64(4), e.LastRecordIDOnMedia())

	data, err := os.ReadFile(filepath.Join(dir, "2024-01-02.csv"))
	require.NoError(t, err)
	require.Contains(t, string(data), dayfile.HeaderLine)
	// four data lines plus the header line
	require.Equal(t, 5, countLines(string(data)))
}

// Scenario 3 (spec.md §8): media failure, then backoff, then drain.
func TestMediaFailureThenBackoffThenDrain(t *testing.T) {
	e, r, df, _ := newTestEngine(t, 8, 8)

	for i := 0; i < 6; i++ {
		appendRecord(t, r, day20240102+int64(i), 100000, 20000, 20000)
	}
	require.Equal(t, uint32(6), r.Count())

	df.InjectReadbackCorruption()
	now := time.Unix(day20240102, 0)
	e.runFlushPass(now)

	require.Equal(t, StateDegraded, e.State())
	require.Equal(t, uint64(1), e.SdFailCount())
	require.Equal(t, uint32(6), r.Count(), "ring must not advance on a failed flush")
	require.True(t, e.Degraded())

	// Still within the backoff window: a retry this instant must not clear
	// the file failure or advance the ring.
	e.runFlushPass(now.Add(time.Millisecond))
	require.Equal(t, uint32(6), r.Count())

	// Past the backoff window, the next pass succeeds and drains everything.
	e.runFlushPass(now.Add(time.Second))
	require.Equal(t, uint32(0), r.Count())
	require.Equal(t, uint64(6), e.LastRecordIDOnMedia())
	require.False(t, e.Degraded())
	require.Equal(t, StateIdle, e.State())
}

// Scenario 4 (spec.md §8): midnight split produces two distinct files.
func TestMidnightSplitProducesTwoFiles(t *testing.T) {
	e, r, _, dir := newTestEngine(t, 4, 1)

	day1 := day20240102
	day2 := day20240102 + 86400 // 2024-01-03

	appendRecord(t, r, day1, 100000, 20000, 20000)
	appendRecord(t, r, day2, 100000, 21000, 21000)

	for r.Count() > 0 {
		e.runFlushPass(time.Unix(day1, 0))
	}

	data1, err := os.ReadFile(filepath.Join(dir, "2024-01-02.csv"))
	require.NoError(t, err)
	require.Equal(t, 2, countLines(string(data1)))

	data2, err := os.ReadFile(filepath.Join(dir, "2024-01-03.csv"))
	require.NoError(t, err)
	require.Equal(t, 2, countLines(string(data2)))
}

// Ring-full policy (spec.md §4.5/§9): the engine stops appending once it
// observes the ring at capacity, and reports RingFull to the producer.
func TestRingFullStopsAppendingUntilHeadroom(t *testing.T) {
	e, r, _, _ := newTestEngine(t, 2, 1)

	accepted1 := e.TryEnqueue(codec.Record{TimestampEpochSec: day20240102, Flags: codec.FlagTimeValid})
	accepted2 := e.TryEnqueue(codec.Record{TimestampEpochSec: day20240102 + 1, Flags: codec.FlagTimeValid})
	accepted3 := e.TryEnqueue(codec.Record{TimestampEpochSec: day20240102 + 2, Flags: codec.FlagTimeValid})
	require.True(t, accepted1)
	require.True(t, accepted2)
	require.True(t, accepted3)

	for i := 0; i < 3; i++ {
		e.processRecord(<-e.queue)
	}

	require.Equal(t, uint32(2), r.Count())
	require.True(t, e.RingFull())

	e.runFlushPass(time.Unix(day20240102, 0))
	require.False(t, e.RingFull())
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
	"github.com/rasusmilch/pt100-datalogger/internal/flushengine"
	"github.com/rasusmilch/pt100-datalogger/internal/mesh"
	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
	"github.com/rasusmilch/pt100-datalogger/internal/sensor"
	"github.com/rasusmilch/pt100-datalogger/internal/sink"
)

func newTestSupervisor(t *testing.T, samples []codec.Record) (*Supervisor, *mesh.RecordingPeer) {
	t.Helper()
	nv := nvblock.NewMemDevice(256 + 16*codec.Size)
	r, err := ring.Open(nv, zap.NewNop())
	require.NoError(t, err)

	dir := t.TempDir()
	df := dayfile.New(dir, "node-1", codec.SchemaVersion, 4096, time.UTC, zap.NewNop())
	t.Cleanup(func() { df.Close() })

	e, err := flushengine.New(flushengine.Options{
		Ring:              r,
		DayFile:           df,
		Sink:              &sink.CountingSink{},
		Log:               zap.NewNop(),
		NodeID:            "node-1",
		QueueCapacity:     8,
		WatermarkRecords:  4,
		FlushPeriod:       50 * time.Millisecond,
		BatchBytesTarget:  4096,
		MaxRecordsPerPass: 64,
	})
	require.NoError(t, err)

	peer := &mesh.RecordingPeer{Connected: true}
	sp, err := New(Options{
		Engine:          e,
		Sensor:          &sensor.FixedSequence{Records: samples},
		Peer:            peer,
		Log:             zap.NewNop(),
		LogPeriod:       5 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return sp, peer
}

func TestRunStopsWithinShutdownTimeout(t *testing.T) {
	now := time.Now().Unix()
	sp, _ := newTestSupervisor(t, []codec.Record{
		{TimestampEpochSec: now, Flags: codec.FlagTimeValid},
		{TimestampEpochSec: now, Flags: codec.FlagTimeValid},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sp.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop within its own shutdown timeout")
	}
}

func TestSampleAndEnqueueDropsNewestWhenQueueFull(t *testing.T) {
	sp, _ := newTestSupervisor(t, []codec.Record{{TimestampEpochSec: time.Now().Unix()}})

	// QueueCapacity is 8; fill it directly, then one more enqueue attempt
	// must be dropped rather than block.
	for i := 0; i < 8; i++ {
		require.True(t, sp.engine.TryEnqueue(codec.Record{TimestampEpochSec: time.Now().Unix()}))
	}
	require.False(t, sp.engine.TryEnqueue(codec.Record{TimestampEpochSec: time.Now().Unix()}))

	done := make(chan struct{})
	go func() {
		sp.sampleAndEnqueue() // must not block even though the queue is full
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampleAndEnqueue blocked on a full queue")
	}
}

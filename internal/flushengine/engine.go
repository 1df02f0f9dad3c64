// Package flushengine implements FlushEngine: the component that couples a
// bounded producer queue, a DurableRing, and a DayFile, handling
// backpressure, overrun policy, day rollover, and failure backoff
// (spec.md §4.5).
package flushengine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
	"github.com/rasusmilch/pt100-datalogger/internal/mesh"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
	"github.com/rasusmilch/pt100-datalogger/internal/sink"
)

// Options configures a new Engine. Zero values are replaced by sensible
// defaults in New where that makes sense (QueueCapacity defaults to 64);
// Ring and DayFile are required.
type Options struct {
	Ring    *ring.Ring
	DayFile *dayfile.DayFile
	Sink    sink.Sink
	Peer    mesh.Peer
	Log     *zap.Logger

	NodeID   string
	Location *time.Location

	QueueCapacity     int
	WatermarkRecords  uint32
	FlushPeriod       time.Duration
	BatchBytesTarget  uint64
	MaxRecordsPerPass uint32
	MaxMsPerPass      time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// Engine is the single-threaded storage-task mutator of DurableRing and
// DayFile. Only the goroutine running Run may call processRecord/runFlushPass;
// RingFull and Degraded are read cross-goroutine by the producer and are
// therefore atomics (spec.md §5 "approximate readings are acceptable").
type Engine struct {
	ring    *ring.Ring
	dayFile *dayfile.DayFile
	sink    sink.Sink
	peer    mesh.Peer
	log     *zap.Logger

	nodeID   string
	location *time.Location

	watermark         uint32
	flushPeriod       time.Duration
	batchBytesTarget  uint64
	maxRecordsPerPass uint32
	maxMsPerPass      time.Duration

	queue chan codec.Record

	state State

	ringFull atomic.Bool
	degraded atomic.Bool

	backoff      backoff.ExponentialBackOff
	backoffUntil time.Time

	lastFlushAt time.Time

	failureCount uint64
	sdFailCount  uint64
}

// New builds an Engine from opts. The ring is probed once (Count/Capacity)
// to seed ringFull; callers are expected to have already called ring.Open.
func New(opts Options) (*Engine, error) {
	if opts.Ring == nil {
		return nil, fmt.Errorf("flushengine: Ring is required")
	}
	if opts.DayFile == nil {
		return nil, fmt.Errorf("flushengine: DayFile is required")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}
	if opts.WatermarkRecords == 0 {
		opts.WatermarkRecords = 8
	}
	if opts.FlushPeriod <= 0 {
		opts.FlushPeriod = 5 * time.Second
	}
	if opts.BatchBytesTarget == 0 {
		opts.BatchBytesTarget = 4096
	}
	if opts.MaxRecordsPerPass == 0 {
		opts.MaxRecordsPerPass = 256
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Peer == nil {
		opts.Peer = mesh.NopPeer{}
	}
	initial := opts.BackoffInitial
	if initial <= 0 {
		initial = 5 * time.Second
	}
	max := opts.BackoffMax
	if max <= 0 {
		max = 60 * time.Second
	}

	bo := backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         max,
	}
	bo.Reset()

	e := &Engine{
		ring:              opts.Ring,
		dayFile:           opts.DayFile,
		sink:              opts.Sink,
		peer:              opts.Peer,
		log:               opts.Log,
		nodeID:            opts.NodeID,
		location:          opts.Location,
		watermark:         opts.WatermarkRecords,
		flushPeriod:       opts.FlushPeriod,
		batchBytesTarget:  opts.BatchBytesTarget,
		maxRecordsPerPass: opts.MaxRecordsPerPass,
		maxMsPerPass:      opts.MaxMsPerPass,
		queue:             make(chan codec.Record, opts.QueueCapacity),
		backoff:           bo,
	}
	if e.ring.Count() >= e.ring.Capacity() {
		e.ringFull.Store(true)
	}
	return e, nil
}

// RingFull reports whether the engine has stopped appending incoming
// records to the ring because it observed it at capacity. Read by the
// producer to set FRAM_FULL on subsequently built records.
func (e *Engine) RingFull() bool { return e.ringFull.Load() }

// Degraded reports whether the engine is currently in the Degraded state.
// Read by the producer to set SD_ERROR on subsequently built records.
func (e *Engine) Degraded() bool { return e.degraded.Load() }

// State returns the engine's current coarse state. Only meaningful when
// read from the same goroutine as Run, or for diagnostics where a stale
// read is acceptable.
func (e *Engine) State() State { return e.state }

// OverrunRecordsTotal, SdFailCount and SawCorruption are the user-visible
// counters spec.md §7 calls out.
func (e *Engine) OverrunRecordsTotal() uint64 { return e.ring.OverrunRecordsTotal() }
func (e *Engine) SdFailCount() uint64         { return e.sdFailCount }
func (e *Engine) SawCorruption() bool         { return e.ring.SawCorruption() }
func (e *Engine) LastRecordIDOnMedia() uint64 { return e.dayFile.LastRecordIDOnMedia() }

// TryEnqueue offers rec to the bounded producer queue. It never blocks: if
// the queue is full the newest record is dropped and accepted is false,
// matching spec.md §4.5's "enqueue is non-blocking" contract. The caller
// (the sensor task) is responsible for setting FRAM_FULL on the next
// record it builds when accepted is false.
func (e *Engine) TryEnqueue(rec codec.Record) (accepted bool) {
	select {
	case e.queue <- rec:
		return true
	default:
		return false
	}
}

// Run is the storage task's main loop. It processes queued records and
// runs flush passes until ctx is cancelled, at which point it drains the
// queue and runs one final flush pass before returning (spec.md §5).
func (e *Engine) Run(ctx context.Context) error {
	if e.sink != nil {
		if err := e.sink.WriteHeader(); err != nil {
			e.log.Warn("flushengine: sink write header failed", zap.Error(err))
		}
	}

	if err := e.startupAlign(time.Now()); err != nil {
		e.log.Warn("flushengine: startup alignment failed", zap.Error(err))
	}
	e.lastFlushAt = time.Now()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case rec := <-e.queue:
			e.processRecord(rec)
		case <-ticker.C:
		}

		now := time.Now()
		if e.flushDue(now) {
			e.runFlushPass(now)
		}
	}
}

// shutdown drains whatever is already queued and runs one last flush pass.
// It imposes no timeout of its own; the hard shutdown bound is applied by
// the caller waiting on Run (supervisor.Supervisor.Run stops waiting after
// its ShutdownTimeout).
func (e *Engine) shutdown() error {
	for {
		select {
		case rec := <-e.queue:
			e.processRecord(rec)
		default:
			e.runFlushPass(time.Now())
			if err := e.dayFile.Close(); err != nil {
				e.log.Warn("flushengine: close on shutdown", zap.Error(err))
			}
			return nil
		}
	}
}

// processRecord implements spec.md §4.5's per-record processing: stream to
// the line output, best-effort offer to the mesh peer, then append to the
// ring unless the engine has observed it full.
func (e *Engine) processRecord(rec codec.Record) {
	if e.sink != nil {
		if err := e.sink.WriteRecord(rec, e.nodeID); err != nil {
			e.log.Warn("flushengine: sink write failed", zap.Error(err))
		}
	}

	if e.peer != nil && e.peer.IsConnected() {
		if err := e.peer.SendRecord(rec); err != nil {
			e.log.Warn("flushengine: mesh send failed", zap.Error(err))
		}
	}

	if e.ring.Count() >= e.ring.Capacity() {
		e.ringFull.Store(true)
		return
	}

	if _, err := e.ring.Append(rec); err != nil {
		e.log.Error("flushengine: ring append failed", zap.Error(err))
	}
}

// flushDue implements the watermark-or-period trigger (spec.md §4.5
// "Flush trigger").
func (e *Engine) flushDue(now time.Time) bool {
	if e.ring.Count() == 0 {
		return false
	}
	if e.ring.Count() >= e.watermark {
		return true
	}
	return now.Sub(e.lastFlushAt) >= e.flushPeriod
}

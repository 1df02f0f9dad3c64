// Package supervisor is the Go-native expression of spec.md §5's scheduling
// model: a sensor task, the storage task (FlushEngine), and a time-sync
// task, coordinated with an errgroup and shut down cooperatively under a
// hard timeout. The teacher's cmd/flashdb/main.go wires its own signal +
// context.Context shutdown by hand at the same layer; this package pushes
// that one level down so cmd/logctl only has to cancel one context.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/flushengine"
	"github.com/rasusmilch/pt100-datalogger/internal/mesh"
	"github.com/rasusmilch/pt100-datalogger/internal/sensor"
)

// Options configures a Supervisor.
type Options struct {
	Engine *flushengine.Engine
	Sensor sensor.Sensor
	Peer   mesh.Peer
	Log    *zap.Logger

	LogPeriod       time.Duration // sensor task cadence (spec.md §6 log_period_ms)
	ShutdownTimeout time.Duration // hard bound on cooperative shutdown (spec.md §5, default 5s)
}

// Supervisor owns the three cooperating tasks spec.md §5 describes and the
// bounded-queue wiring between the sensor task and the engine.
type Supervisor struct {
	engine *flushengine.Engine
	sensor sensor.Sensor
	peer   mesh.Peer
	log    *zap.Logger

	logPeriod       time.Duration
	shutdownTimeout time.Duration

	queueWasFull bool
}

// New builds a Supervisor from opts.
func New(opts Options) (*Supervisor, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("supervisor: Engine is required")
	}
	if opts.Sensor == nil {
		return nil, fmt.Errorf("supervisor: Sensor is required")
	}
	if opts.LogPeriod <= 0 {
		opts.LogPeriod = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Peer == nil {
		opts.Peer = mesh.NopPeer{}
	}
	return &Supervisor{
		engine:          opts.Engine,
		sensor:          opts.Sensor,
		peer:            opts.Peer,
		log:             opts.Log,
		logPeriod:       opts.LogPeriod,
		shutdownTimeout: opts.ShutdownTimeout,
	}, nil
}

// Run starts the sensor, storage and time-sync tasks and blocks until ctx
// is cancelled and either all three exit or the hard shutdown timeout
// elapses, whichever comes first (spec.md §5 "Cancellation and timeouts").
func (sp *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sp.runSensorTask(gctx) })
	g.Go(func() error { return sp.runTimeSyncTask(gctx) })
	g.Go(func() error { return sp.engine.Run(gctx) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(sp.shutdownTimeout):
			sp.log.Error("supervisor: shutdown timed out, ring remains consistent but some records may be unflushed",
				zap.Duration("timeout", sp.shutdownTimeout))
			return fmt.Errorf("supervisor: shutdown exceeded hard timeout of %s", sp.shutdownTimeout)
		}
	}
}

// runSensorTask is the periodic producer: it never touches the ring or
// media directly, only the engine's bounded queue (spec.md §5 "Sensor
// task").
func (sp *Supervisor) runSensorTask(ctx context.Context) error {
	ticker := time.NewTicker(sp.logPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sp.sampleAndEnqueue()
		}
	}
}

// sampleAndEnqueue implements the producer side of spec.md §4.5's
// "Inputs and queues": FRAM_FULL is set on a record whenever the ring
// reported itself full OR a prior enqueue attempt found the bounded queue
// full and dropped the newest record ("on full, the newest record is
// dropped at the producer, which sets FRAM_FULL on subsequent records").
// The queue-full condition persists until an enqueue finally succeeds.
func (sp *Supervisor) sampleAndEnqueue() {
	rec, err := sp.sensor.Sample()
	if err != nil {
		sp.log.Warn("supervisor: sensor sample failed", zap.Error(err))
		rec.Flags |= codec.FlagSensorFault
	}

	if sp.engine.RingFull() || sp.queueWasFull {
		rec.Flags |= codec.FlagFramFull
	}
	if sp.engine.Degraded() {
		rec.Flags |= codec.FlagSDError
	}
	if sp.peer.IsConnected() {
		rec.Flags |= codec.FlagMeshConnected
	}

	if sp.engine.TryEnqueue(rec) {
		sp.queueWasFull = false
	} else {
		sp.queueWasFull = true
		sp.log.Warn("supervisor: producer queue full, dropping newest record")
	}
}

// runTimeSyncTask models spec.md §5's "Time-sync task" and never touches
// storage. It does not set any clock itself: the real synchronization
// protocol is an external collaborator (spec.md §1), and this loop only
// drives the mesh Peer capability's best-effort time exchange (one
// RequestTime at start, then BroadcastTime every minute while connected).
func (sp *Supervisor) runTimeSyncTask(ctx context.Context) error {
	if err := sp.peer.RequestTime(); err != nil {
		sp.log.Debug("supervisor: initial time request failed", zap.Error(err))
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if sp.peer.IsConnected() {
				if err := sp.peer.BroadcastTime(time.Now().Unix()); err != nil {
					sp.log.Debug("supervisor: time broadcast failed", zap.Error(err))
				}
			}
		}
	}
}

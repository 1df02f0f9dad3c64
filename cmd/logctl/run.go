package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/config"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
	"github.com/rasusmilch/pt100-datalogger/internal/flushengine"
	"github.com/rasusmilch/pt100-datalogger/internal/mesh"
	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
	"github.com/rasusmilch/pt100-datalogger/internal/sensor"
	"github.com/rasusmilch/pt100-datalogger/internal/sink"
	"github.com/rasusmilch/pt100-datalogger/internal/supervisor"
)

var runCmdArgs struct {
	ConfigPath string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the durable-log core pipeline until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline()
	},
}

func init() {
	runCmd.Flags().StringVarP(&runCmdArgs.ConfigPath, "config", "c", "logctl.hujson", "Path to the HuJSON tunables file")
}

func runPipeline() error {
	log, err := newLogger(rootCmdArgs.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(runCmdArgs.ConfigPath)
	if err != nil {
		return fmt.Errorf("logctl: load config: %w", err)
	}
	log.Info("logctl: loaded configuration", zap.String("path", runCmdArgs.ConfigPath), zap.String("node_id", cfg.NodeID))

	nv, err := nvblock.OpenFileDevice(cfg.NvramPath, cfg.NvramSizeBytes)
	if err != nil {
		return fmt.Errorf("logctl: open nvram device: %w", err)
	}
	defer nv.Close()

	r, err := ring.Open(nv, log.Named("ring"))
	if err != nil {
		return fmt.Errorf("logctl: open ring: %w", err)
	}
	log.Info("logctl: ring opened", zap.Uint32("capacity", r.Capacity()), zap.Uint32("count", r.Count()))

	df := dayfile.New(cfg.MountPoint, cfg.NodeID, codec.SchemaVersion, int(uint64(cfg.SDTailScanBytes)), time.Local, log.Named("dayfile"))

	engine, err := flushengine.New(flushengine.Options{
		Ring:              r,
		DayFile:           df,
		Sink:              sink.NewWriterSink(os.Stdout),
		Peer:              mesh.NopPeer{},
		Log:               log.Named("flushengine"),
		NodeID:            cfg.NodeID,
		Location:          time.Local,
		QueueCapacity:     cfg.ProducerQueueCapacity,
		WatermarkRecords:  cfg.FramFlushWatermarkRecords,
		FlushPeriod:       time.Duration(cfg.SDFlushPeriodMs) * time.Millisecond,
		BatchBytesTarget:  uint64(cfg.SDBatchBytesTarget),
		MaxRecordsPerPass: cfg.MaxRecordsPerPass,
		MaxMsPerPass:      cfg.MaxMsPerPass,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
	})
	if err != nil {
		return fmt.Errorf("logctl: build flush engine: %w", err)
	}

	sp, err := supervisor.New(supervisor.Options{
		Engine:          engine,
		Sensor:          sensor.Func(simulatedSample),
		Peer:            mesh.NopPeer{},
		Log:             log.Named("supervisor"),
		LogPeriod:       time.Duration(cfg.LogPeriodMs) * time.Millisecond,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("logctl: build supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("logctl: received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("logctl: pipeline running")
	if err := sp.Run(ctx); err != nil {
		return fmt.Errorf("logctl: pipeline exited with error: %w", err)
	}
	log.Info("logctl: shutdown complete")
	return nil
}

// simulatedSample stands in for real RTD hardware sampling, which is out
// of scope (spec.md §1 "sensor sampling and calibration math"). It yields
// a plausible reading so `run` is exercisable without real hardware.
func simulatedSample() (codec.Record, error) {
	now := time.Now()
	tempMilliC := int32(20000 + rand.Intn(200) - 100)
	return codec.Record{
		TimestampEpochSec: now.Unix(),
		TimestampMillis:   int32(now.Nanosecond() / int(time.Millisecond)),
		RawTempMilliC:     tempMilliC,
		TempMilliC:        tempMilliC,
		ResistanceMilliOhm: 100000 + int32(rand.Intn(500)),
		Flags:              codec.FlagTimeValid | codec.FlagCalValid,
	}, nil
}

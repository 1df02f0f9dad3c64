// Package config loads and saves the durable-log core's tunable
// configuration (spec.md §6 "Tunable configuration"). Configuration
// storage and loading for the rest of the device is out of scope
// (spec.md §1); this package only covers the knobs the pipeline itself
// consults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mohae/deepcopy"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds every tunable named in spec.md §6, enumerated by effect.
type Config struct {
	// LogPeriodMs is the producer cadence. Valid 100..3,600,000.
	LogPeriodMs int `json:"log_period_ms"`

	// FramFlushWatermarkRecords triggers a flush when ring count reaches
	// it. Valid >= 1.
	FramFlushWatermarkRecords uint32 `json:"fram_flush_watermark_records"`

	// SDFlushPeriodMs is the periodic flush interval. Valid >= 1,000.
	SDFlushPeriodMs int `json:"sd_flush_period_ms"`

	// SDBatchBytesTarget is a size hint for the batch buffer. Valid >= 4096.
	SDBatchBytesTarget datasize.ByteSize `json:"sd_batch_bytes_target"`

	// SDTailScanBytes caps the tail-repair / resume window.
	SDTailScanBytes datasize.ByteSize `json:"sd_tail_scan_bytes"`

	// SDFileBufferBytes is loaded and saved, but nothing consults it: DayFile keeps no line buffer and writes each batch with
	// a single WriteAt.
	SDFileBufferBytes datasize.ByteSize `json:"sd_file_buffer_bytes"`

	// NodeID is embedded in every CSV row (spec.md §6 on-media format).
	NodeID string `json:"node_id"`

	// MountPoint is the removable-media directory DayFile writes into.
	MountPoint string `json:"mount_point"`

	// NvramPath is the backing file standing in for the byte-addressable
	// NVRAM part when not running against real hardware.
	NvramPath string `json:"nvram_path"`

	// NvramSizeBytes is the total size of the ring's NVRAM region.
	NvramSizeBytes uint32 `json:"nvram_size_bytes"`

	// BackoffInitial / BackoffMax bound the degraded-state retry backoff
	// (spec.md §7 "MediaIo ... exponential or fixed backoff, default 5s").
	BackoffInitial time.Duration `json:"backoff_initial"`
	BackoffMax     time.Duration `json:"backoff_max"`

	// ShutdownTimeout bounds cooperative shutdown (spec.md §5, default 5s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// ProducerQueueCapacity is Q, the bounded SPSC queue size between the
	// sensor task and the storage task (spec.md §4.5, default 64).
	ProducerQueueCapacity int `json:"producer_queue_capacity"`

	// MaxRecordsPerPass / MaxMsPerPass bound a single flush pass
	// (spec.md §4.5 step 6).
	MaxRecordsPerPass uint32        `json:"max_records_per_pass"`
	MaxMsPerPass      time.Duration `json:"max_ms_per_pass"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogPeriodMs:               1000,
		FramFlushWatermarkRecords: 8,
		SDFlushPeriodMs:           5000,
		SDBatchBytesTarget:        4 * datasize.KB,
		SDTailScanBytes:           256 * datasize.KB,
		SDFileBufferBytes:         4 * datasize.KB,
		NodeID:                    "node-1",
		MountPoint:                "sdcard",
		NvramPath:                 "nvram.bin",
		NvramSizeBytes:            256 + 256*64, // header region + 16 KiB slot area (356 records of codec.Size)
		BackoffInitial:            5 * time.Second,
		BackoffMax:                60 * time.Second,
		ShutdownTimeout:           5 * time.Second,
		ProducerQueueCapacity:     64,
		MaxRecordsPerPass:         256,
		MaxMsPerPass:              250 * time.Millisecond,
	}
}

// Validate checks every tunable against the valid ranges spec.md §6
// enumerates.
func (c *Config) Validate() error {
	switch {
	case c.LogPeriodMs < 100 || c.LogPeriodMs > 3_600_000:
		return fmt.Errorf("config: log_period_ms %d out of range [100,3600000]", c.LogPeriodMs)
	case c.FramFlushWatermarkRecords < 1:
		return fmt.Errorf("config: fram_flush_watermark_records must be >= 1")
	case c.SDFlushPeriodMs < 1000:
		return fmt.Errorf("config: sd_flush_period_ms must be >= 1000")
	case c.SDBatchBytesTarget < 4096:
		return fmt.Errorf("config: sd_batch_bytes_target must be >= 4096")
	case c.ProducerQueueCapacity < 1:
		return fmt.Errorf("config: producer_queue_capacity must be >= 1")
	}
	return nil
}

// Load reads a HuJSON (JSON-with-comments) configuration file from path,
// falling back to defaults if the file does not exist. HuJSON lets a
// field deployment tuned watermark carry an explanatory comment without
// breaking the parser.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := json.Unmarshal(standard, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save atomically writes cfg as HuJSON-compatible (plain) JSON to path, so
// a power cut mid-write can never leave a torn, half-written config file
// behind — the same hazard the rest of this repo exists to survive.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("config: atomic write %s: %w", path, err)
	}
	return nil
}

// Effective returns a deep copy of c so a caller mutating the result can
// never corrupt the package-held configuration.
func (c *Config) Effective() *Config {
	return deepcopy.Copy(c).(*Config)
}

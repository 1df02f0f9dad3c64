// Package dayfile implements DayFile: resume/repair and verified append
// for a per-day text file on removable media (spec.md §4.4).
package dayfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Error kinds (spec.md §7).
var (
	ErrMediaIO        = errors.New("dayfile: media io failure")
	ErrVerifyMismatch = errors.New("dayfile: readback verify mismatch")
)

// DefaultTailScanBytes is the bounded scan window used by tail repair and
// resume scan when the caller does not override it (spec.md §4.4 "W,
// configurable, default 256 KiB").
const DefaultTailScanBytes = 256 * 1024

// DayFile owns the single open file handle for the currently active day,
// on a mount point holding one CSV file per calendar date.
type DayFile struct {
	mountPoint    string
	nodeID        string
	schemaVersion uint16
	tailScanBytes int64
	localZone     *time.Location
	log           *zap.Logger

	file     *os.File
	lock     *flock.Flock
	date     string // "" when nothing is open
	path     string
	lastRecordIDOnMedia uint64
	fileWasTruncated    bool

	// corruptNextReadback is test-only instrumentation: when true, the
	// next AppendVerified readback is flipped by one byte before the
	// hash comparison, simulating silent media corruption.
	corruptNextReadback bool
}

// New constructs a DayFile rooted at mountPoint. nodeID is kept but not
// written by DayFile: rows arrive already formatted (FormatRecord embeds
// the node ID) and the header line carries none. schemaVersion is the
// compiled schema version resume scan requires a line's leading field to
// match.
func New(mountPoint string, nodeID string, schemaVersion uint16, tailScanBytes int, localZone *time.Location, log *zap.Logger) *DayFile {
	if tailScanBytes <= 0 {
		tailScanBytes = DefaultTailScanBytes
	}
	if localZone == nil {
		localZone = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DayFile{
		mountPoint:    mountPoint,
		nodeID:        nodeID,
		schemaVersion: schemaVersion,
		tailScanBytes: int64(tailScanBytes),
		localZone:     localZone,
		log:           log,
	}
}

// LastRecordIDOnMedia returns the largest record_id known to be durably
// appended to the currently open file.
func (d *DayFile) LastRecordIDOnMedia() uint64 { return d.lastRecordIDOnMedia }

// FileWasTruncated reports whether the most recent EnsureOpenFor call had
// to repair a torn tail.
func (d *DayFile) FileWasTruncated() bool { return d.fileWasTruncated }

// CurrentDate returns the calendar date (UTC) of the currently open file,
// or "" if nothing is open.
func (d *DayFile) CurrentDate() string { return d.date }

// MountPoint returns the directory DayFile writes day files into.
func (d *DayFile) MountPoint() string { return d.mountPoint }

// InjectReadbackCorruption arranges for the next AppendVerified call to
// observe a flipped byte on readback, simulating silent media corruption.
// Test-only fault injection.
func (d *DayFile) InjectReadbackCorruption() { d.corruptNextReadback = true }

// EnsureOpenFor resolves the date string for epochUTC; if a file is
// already open on that date this is a no-op and opened is false.
// Otherwise it closes any open file, opens (create-or-append) the target
// path, repairs its tail, and resumes from the newest parseable line;
// opened is true and LastRecordIDOnMedia reflects the resume scan.
func (d *DayFile) EnsureOpenFor(epochUTC int64) (opened bool, err error) {
	date := DateStringUTC(epochUTC)
	if d.file != nil && d.date == date {
		d.fileWasTruncated = false
		return false, nil
	}

	if d.file != nil {
		if err := d.Close(); err != nil {
			return false, err
		}
	}

	if err := os.MkdirAll(d.mountPoint, 0o755); err != nil {
		return false, fmt.Errorf("%w: mkdir %s: %v", ErrMediaIO, d.mountPoint, err)
	}

	path := filepath.Join(d.mountPoint, date+".csv")
	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return false, fmt.Errorf("%w: lock %s: %v", ErrMediaIO, path, err)
	}
	if !locked {
		return false, fmt.Errorf("%w: %s already locked by another process", ErrMediaIO, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		lk.Unlock()
		return false, fmt.Errorf("%w: open %s: %v", ErrMediaIO, path, err)
	}

	d.file = f
	d.lock = lk
	d.path = path
	d.date = date
	d.fileWasTruncated = false

	if err := d.repairTail(); err != nil {
		d.Close()
		return false, err
	}

	info, err := d.file.Stat()
	if err != nil {
		d.Close()
		return false, fmt.Errorf("%w: stat %s: %v", ErrMediaIO, path, err)
	}
	if info.Size() == 0 {
		if _, err := d.file.Write([]byte(HeaderLine)); err != nil {
			d.Close()
			return false, fmt.Errorf("%w: write header %s: %v", ErrMediaIO, path, err)
		}
		if err := d.file.Sync(); err != nil {
			d.Close()
			return false, fmt.Errorf("%w: sync header %s: %v", ErrMediaIO, path, err)
		}
	}

	if err := d.resumeScan(); err != nil {
		d.Close()
		return false, err
	}

	return true, nil
}

// Close flushes, fsyncs and closes the file handle and releases the
// advisory lock held on the day file's companion "<date>.csv.lock" file.
func (d *DayFile) Close() error {
	if d.file == nil {
		return nil
	}
	syncErr := d.file.Sync()
	closeErr := d.file.Close()
	if d.lock != nil {
		d.lock.Unlock()
		d.lock = nil
	}
	d.file = nil
	d.date = ""
	if syncErr != nil {
		return fmt.Errorf("%w: sync on close: %v", ErrMediaIO, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close: %v", ErrMediaIO, closeErr)
	}
	return nil
}

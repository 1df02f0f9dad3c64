package dayfile

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// repairTail implements spec.md §4.4 "Tail repair": with a bounded scan
// window, truncate a torn trailing line left by a power cut mid-write.
func (d *DayFile) repairTail() error {
	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrMediaIO, err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	lastByte := make([]byte, 1)
	if _, err := d.file.ReadAt(lastByte, size-1); err != nil {
		return fmt.Errorf("%w: read last byte: %v", ErrMediaIO, err)
	}
	if lastByte[0] == '\n' {
		return nil
	}

	window := d.tailScanBytes
	if window > size {
		window = size
	}
	start := size - window
	buf := make([]byte, window)
	if _, err := d.file.ReadAt(buf, start); err != nil {
		return fmt.Errorf("%w: read tail window: %v", ErrMediaIO, err)
	}

	truncateAt := int64(0)
	if idx := strings.LastIndexByte(string(buf), '\n'); idx >= 0 {
		truncateAt = start + int64(idx) + 1
	}

	if err := d.file.Truncate(truncateAt); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrMediaIO, err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync after truncate: %v", ErrMediaIO, err)
	}

	d.fileWasTruncated = true
	d.log.Warn("dayfile: repaired torn tail",
		zap.String("path", d.path),
		zap.Int64("pre_repair_size", size),
		zap.Int64("truncated_to", truncateAt))
	return nil
}

// resumeScan walks the same bounded window backwards, line by line, for
// the newest line whose leading schema_ver field matches and whose second
// field parses as a record_id (spec.md §4.4 "Resume scan").
func (d *DayFile) resumeScan() error {
	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrMediaIO, err)
	}
	size := info.Size()
	if size == 0 {
		d.lastRecordIDOnMedia = 0
		return nil
	}

	window := d.tailScanBytes
	if window > size {
		window = size
	}
	start := size - window
	buf := make([]byte, window)
	if _, err := d.file.ReadAt(buf, start); err != nil {
		return fmt.Errorf("%w: read resume window: %v", ErrMediaIO, err)
	}

	lines := strings.Split(string(buf), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, HeaderLinePrefix) {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		if len(fields) < 2 {
			continue
		}
		schemaVer, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil || uint16(schemaVer) != d.schemaVersion {
			continue
		}
		recordID, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		d.lastRecordIDOnMedia = recordID
		return nil
	}

	d.lastRecordIDOnMedia = 0
	return nil
}

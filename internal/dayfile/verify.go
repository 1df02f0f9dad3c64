package dayfile

import (
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"
)

// AppendVerified appends buf at end-of-file, flushes and fsyncs, then
// reads back the appended region and compares its SHA-256 to the
// pre-write hash. On success, LastRecordIDOnMedia advances to
// lastRecordIDInBatch. On any failure the file is rolled back to its
// pre-append size and the error is returned; the caller must not consume
// records from the ring until this returns nil (spec.md §4.4).
func (d *DayFile) AppendVerified(buf []byte, lastRecordIDInBatch uint64) error {
	if d.file == nil {
		return fmt.Errorf("%w: no day file open", ErrMediaIO)
	}

	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat before append: %v", ErrMediaIO, err)
	}
	preSize := info.Size()
	wantHash := sha256.Sum256(buf)

	if err := d.writeVerifiedOrRollback(buf, preSize, wantHash); err != nil {
		return err
	}

	d.lastRecordIDOnMedia = lastRecordIDInBatch
	return nil
}

func (d *DayFile) writeVerifiedOrRollback(buf []byte, preSize int64, wantHash [sha256.Size]byte) error {
	n, err := d.file.WriteAt(buf, preSize)
	if err != nil || n != len(buf) {
		d.rollback(preSize)
		return fmt.Errorf("%w: short or failed write (n=%d want=%d): %v", ErrMediaIO, n, len(buf), err)
	}

	if err := d.file.Sync(); err != nil {
		d.rollback(preSize)
		return fmt.Errorf("%w: sync: %v", ErrMediaIO, err)
	}

	readBack := make([]byte, len(buf))
	if _, err := d.file.ReadAt(readBack, preSize); err != nil {
		d.rollback(preSize)
		return fmt.Errorf("%w: readback: %v", ErrMediaIO, err)
	}
	if d.corruptNextReadback {
		d.corruptNextReadback = false
		readBack[0] ^= 0xFF
	}

	gotHash := sha256.Sum256(readBack)
	if gotHash != wantHash {
		d.log.Error("dayfile: verify mismatch, rolling back append",
			zap.String("path", d.path), zap.Int64("pre_size", preSize))
		d.rollback(preSize)
		return fmt.Errorf("%w: %w", ErrMediaIO, ErrVerifyMismatch)
	}

	return nil
}

// rollback truncates the file back to preSize and fsyncs, best-effort.
// Failures here are logged: the caller already has the primary error to
// return and there is no further remediation available at this layer.
func (d *DayFile) rollback(preSize int64) {
	if err := d.file.Truncate(preSize); err != nil {
		d.log.Error("dayfile: rollback truncate failed", zap.Error(err))
		return
	}
	if err := d.file.Sync(); err != nil {
		d.log.Error("dayfile: rollback sync failed", zap.Error(err))
	}
}

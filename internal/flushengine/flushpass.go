package flushengine

import (
	"bytes"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
)

// startupAlign runs steps 4-5 of a flush pass against now, to reconcile
// media that already contains records whose record_id is <= the ring's
// head before the engine starts producing (spec.md §4.5 "Startup
// alignment").
func (e *Engine) startupAlign(now time.Time) error {
	rec, err := e.ring.PeekOldest()
	if errors.Is(err, ring.ErrEmpty) {
		return nil
	}
	if err != nil {
		return err
	}

	target := recordEpoch(rec, now)
	opened, err := e.dayFile.EnsureOpenFor(target)
	if err != nil {
		return err
	}
	if !opened {
		return nil
	}
	lastID := e.dayFile.LastRecordIDOnMedia()
	if lastID == 0 {
		return nil
	}
	_, err = e.ring.ConsumeUpTo(lastID)
	return err
}

// runFlushPass executes one bounded flush pass (spec.md §4.5 "Flush pass").
func (e *Engine) runFlushPass(now time.Time) {
	if e.degraded.Load() {
		if now.Before(e.backoffUntil) {
			return
		}
		if err := e.ensureMounted(); err != nil {
			e.enterDegraded(now, err)
			return
		}
	}
	e.state = StateFlushing

	rec, err := e.ring.PeekOldest()
	switch {
	case errors.Is(err, ring.ErrEmpty):
		e.state = StateIdle
		return
	case errors.Is(err, ring.ErrCorrupt):
		e.log.Warn("flushengine: skipping corrupt head slot")
		if skipErr := e.ring.SkipCorruptOldest(); skipErr != nil {
			e.log.Error("flushengine: skip corrupt oldest failed", zap.Error(skipErr))
		}
		e.state = StateIdle
		return
	case err != nil:
		e.log.Error("flushengine: unexpected peek error", zap.Error(err))
		e.state = StateIdle
		return
	}

	target := recordEpoch(rec, now)

	opened, err := e.dayFile.EnsureOpenFor(target)
	if err != nil {
		e.enterDegraded(now, err)
		return
	}
	if opened {
		if lastID := e.dayFile.LastRecordIDOnMedia(); lastID > 0 {
			if _, cErr := e.ring.ConsumeUpTo(lastID); cErr != nil {
				e.log.Error("flushengine: corruption aligning with media", zap.Error(cErr))
				e.enterDegraded(now, cErr)
				return
			}
		}
	}

	batch, recordsUsed, lastRecordID := e.buildBatch(target, now)
	if recordsUsed == 0 {
		// Alignment above may have just consumed the ring down to empty
		// (or the mount recovered with nothing new to write); either way
		// this pass saw the media as healthy, so it must not leave
		// Degraded set behind it tagging SD_ERROR on future records.
		e.clearDegraded()
		e.state = StateIdle
		return
	}

	if err := e.dayFile.AppendVerified(batch, lastRecordID); err != nil {
		if closeErr := e.dayFile.Close(); closeErr != nil {
			e.log.Warn("flushengine: close after failed append", zap.Error(closeErr))
		}
		e.sdFailCount++
		e.enterDegraded(now, err)
		return
	}

	for i := uint32(0); i < recordsUsed; i++ {
		if err := e.ring.DiscardOldest(); err != nil {
			e.log.Error("flushengine: discard oldest after flush failed", zap.Error(err))
			break
		}
	}
	if e.ring.Count() < e.ring.Capacity() {
		e.ringFull.Store(false)
	}
	e.clearDegraded()
	e.lastFlushAt = now
	e.state = StateIdle
}

// buildBatch accumulates formatted lines for records whose date matches
// targetDate, bounded by batchBytesTarget, maxRecordsPerPass and
// maxMsPerPass, stopping at the first record on a different date or at
// ring exhaustion/corruption (spec.md §4.5 step 6).
func (e *Engine) buildBatch(targetEpoch int64, now time.Time) (buf []byte, used uint32, lastRecordID uint64) {
	targetDate := dayfile.DateStringUTC(targetEpoch)
	var b bytes.Buffer
	start := now

	for used < e.maxRecordsPerPass {
		if e.maxMsPerPass > 0 && time.Since(start) >= e.maxMsPerPass {
			break
		}
		rec, err := e.ring.PeekOffset(used)
		if err != nil {
			break // ring exhausted (OutOfRange) or hit a corrupt slot; stop without consuming it
		}
		recDate := dayfile.DateStringUTC(recordEpoch(rec, now))
		if recDate != targetDate {
			break
		}
		line := dayfile.FormatRecord(rec, e.nodeID, e.location)
		if used > 0 && uint64(b.Len()+len(line)) > e.batchBytesTarget {
			break
		}
		b.Write(line)
		used++
		lastRecordID = rec.RecordID
	}
	return b.Bytes(), used, lastRecordID
}

// ensureMounted checks that the media mount point exists, creating it if
// necessary, standing in for a real mount operation on removable media
// (spec.md §4.5 step 1).
func (e *Engine) ensureMounted() error {
	path := e.dayFile.MountPoint()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
				return mkErr
			}
			return nil
		}
		return err
	}
	return nil
}

// enterDegraded transitions into Degraded, bumps the failure counter, and
// schedules the next backoff window (spec.md §4.5 step 10, §7 MediaIo).
func (e *Engine) enterDegraded(now time.Time, cause error) {
	e.state = StateDegraded
	e.degraded.Store(true)
	e.failureCount++
	d := e.backoff.NextBackOff()
	e.backoffUntil = now.Add(d)
	e.log.Error("flushengine: entering degraded state",
		zap.Error(cause), zap.Duration("backoff", d), zap.Uint64("failure_count", e.failureCount))
}

// clearDegraded resets the backoff policy and leaves Degraded, if it was
// set, on a successful flush.
func (e *Engine) clearDegraded() {
	if e.degraded.CompareAndSwap(true, false) {
		e.backoff.Reset()
	}
}

// recordEpoch returns rec's timestamp, falling back to now when the
// timestamp has not yet been set (spec.md §4.5 step 4, §9 "tolerates
// epoch == 0 by using wall clock for file-naming decisions").
func recordEpoch(rec codec.Record, now time.Time) int64 {
	if rec.TimestampEpochSec != 0 {
		return rec.TimestampEpochSec
	}
	return now.Unix()
}

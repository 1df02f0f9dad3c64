package dayfile

import (
	"fmt"
	"time"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
)

// HeaderLine is the exact header line written to an empty day file
// (spec.md §6).
const HeaderLine = "schema_ver,seq,epoch_utc,iso8601_local,raw_rtd_ohms,raw_temp_c,cal_temp_c,flags,node_id\n"

// HeaderLinePrefix is the literal prefix used to recognize (and skip) the
// header line during resume scan.
const HeaderLinePrefix = "schema_ver,seq,epoch_utc"

// DateStringUTC resolves the calendar date for epoch (UTC), used both for
// file naming and as the day-boundary comparison key.
func DateStringUTC(epochUTC int64) string {
	return time.Unix(epochUTC, 0).UTC().Format("2006-01-02")
}

// FormatRecord renders one CSV data row for rec, identified by nodeID, in
// the local time zone loc (used only for the cosmetic iso8601_local
// column).
//
// Column 2 carries RecordID, not Sequence: resumeScan reads it back as
// the resume key (spec.md §4.4 "whose second comma-separated field
// parses as an unsigned 64-bit record_id"), and the flush pass feeds
// that value straight into ring.ConsumeUpTo, which compares it against
// each slot's RecordID. Writing Sequence there instead only happens to
// work on a fresh deployment where sequence and record_id coincide; once
// a rebuild-from-slot-scan (spec.md §4.3 step 2) advances them apart, a
// sequence-keyed resume would under-consume the ring and duplicate
// already-persisted records on the next flush.
func FormatRecord(rec codec.Record, nodeID string, loc *time.Location) []byte {
	iso := ""
	if rec.TimestampEpochSec != 0 {
		t := time.Unix(rec.TimestampEpochSec, int64(rec.TimestampMillis)*int64(time.Millisecond)).In(loc)
		iso = t.Format("2006-01-02T15:04:05.000-07:00")
	}

	line := fmt.Sprintf("%d,%d,%d,%s,%.3f,%.3f,%.3f,0x%04x,%s\n",
		rec.SchemaVersion,
		rec.RecordID,
		rec.TimestampEpochSec,
		iso,
		float64(rec.ResistanceMilliOhm)/1000.0,
		float64(rec.RawTempMilliC)/1000.0,
		float64(rec.TempMilliC)/1000.0,
		rec.Flags,
		nodeID,
	)
	return []byte(line)
}

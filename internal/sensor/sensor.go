// Package sensor models the producer capability spec.md §6 describes: a
// partial record supplying timestamp and measurement fields. Sensor
// sampling and calibration math are themselves out of scope (spec.md §1);
// only the interface and test doubles live here.
package sensor

import "github.com/rasusmilch/pt100-datalogger/internal/codec"

// Sensor samples one partial record. The engine fills sequence, record_id,
// magic, schema_version and crc; Sample only supplies timestamp,
// measurement fields and any flags the collaborator itself knows about
// (e.g. SENSOR_FAULT).
type Sensor interface {
	Sample() (codec.Record, error)
}

// Func adapts a plain function into a Sensor.
type Func func() (codec.Record, error)

func (f Func) Sample() (codec.Record, error) { return f() }

// FixedSequence is a test double that yields records from a fixed slice in
// order, returning the last one forever once exhausted.
type FixedSequence struct {
	Records []codec.Record
	next    int
}

func (s *FixedSequence) Sample() (codec.Record, error) {
	if len(s.Records) == 0 {
		return codec.Record{}, nil
	}
	idx := s.next
	if idx >= len(s.Records) {
		idx = len(s.Records) - 1
	} else {
		s.next++
	}
	return s.Records[idx], nil
}

// Package sink models the line-output capability spec.md §6 and §9
// describe: a byte-oriented, synchronous, best-effort mirror of every
// produced record to a host-visible stream. The engine depends on a sink
// by capability, never by identity.
package sink

import (
	"io"
	"sync"
	"time"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
)

// Sink receives the CSV header once (WriteHeader) and then one record per
// WriteRecord call, which it renders as it sees fit. Implementations must not
// block the storage task for long; failures are swallowed by callers
// since this stream is a mirror, not a durable record (spec.md §6).
type Sink interface {
	WriteHeader() error
	WriteRecord(rec codec.Record, nodeID string) error
}

// WriterSink adapts an io.Writer (e.g. a serial port) into a Sink, writing
// the same CSV framing DayFile persists to media. The mirrored stream
// always renders timestamps in UTC; it is a diagnostic tap, not a record
// of local wall-clock time.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink builds a Sink that mirrors records as CSV lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write([]byte(dayfile.HeaderLine))
	return err
}

func (s *WriterSink) WriteRecord(rec codec.Record, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := dayfile.FormatRecord(rec, nodeID, time.UTC)
	_, err := s.w.Write(line)
	return err
}

// CountingSink is a test/diagnostic double recording how many headers and
// records it has seen without performing any I/O.
type CountingSink struct {
	mu      sync.Mutex
	Headers int
	Records []codec.Record
}

func (s *CountingSink) WriteHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Headers++
	return nil
}

func (s *CountingSink) WriteRecord(rec codec.Record, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, rec)
	return nil
}

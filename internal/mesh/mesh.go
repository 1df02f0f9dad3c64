// Package mesh models the downstream peer capability spec.md §6 and §9
// describe. The real wireless mesh transport and time synchronization are
// external collaborators out of scope for this module (spec.md §1); only
// the interface and a benign stand-in live here.
package mesh

import "github.com/rasusmilch/pt100-datalogger/internal/codec"

// Peer is the downstream mesh collaborator capability. The engine calls
// only IsConnected and SendRecord, both best-effort with no retry
// (spec.md §4.5 step 2).
type Peer interface {
	IsConnected() bool
	SendRecord(rec codec.Record) error
	BroadcastTime(epochSec int64) error
	RequestTime() error
}

// NopPeer is a Peer that reports disconnected and accepts nothing. It is
// the default collaborator when no mesh transport is configured.
type NopPeer struct{}

func (NopPeer) IsConnected() bool                { return false }
func (NopPeer) SendRecord(codec.Record) error    { return nil }
func (NopPeer) BroadcastTime(int64) error        { return nil }
func (NopPeer) RequestTime() error               { return nil }

// RecordingPeer is a test double that reports Connected and records every
// record offered to it.
type RecordingPeer struct {
	Connected bool
	Sent      []codec.Record
}

func (p *RecordingPeer) IsConnected() bool { return p.Connected }

func (p *RecordingPeer) SendRecord(rec codec.Record) error {
	p.Sent = append(p.Sent, rec)
	return nil
}

func (p *RecordingPeer) BroadcastTime(int64) error { return nil }
func (p *RecordingPeer) RequestTime() error        { return nil }

// Package nvblock provides a byte-addressable read/write capability over a
// non-volatile memory device. It carries no schema knowledge: callers above
// it (codec, ring) own the layout.
package nvblock

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrBadRange is returned when a read or write falls outside [0, Size()).
var ErrBadRange = errors.New("nvblock: address range out of bounds")

// Device is the minimal capability an NVRAM-backed component needs: a
// bounded byte array with write-through semantics (a write is committed to
// the device before the call returns). No caching, no alignment
// requirements.
type Device interface {
	// ReadAt returns length bytes starting at address.
	ReadAt(address uint32, length uint32) ([]byte, error)
	// WriteAt writes data at address. The write is durable on return.
	WriteAt(address uint32, data []byte) error
	// Size reports the total addressable size of the device.
	Size() uint32
}

func checkRange(size, address, length uint32) error {
	if length == 0 {
		return nil
	}
	if address >= size || uint64(address)+uint64(length) > uint64(size) {
		return fmt.Errorf("%w: address=%d length=%d size=%d", ErrBadRange, address, length, size)
	}
	return nil
}

// MemDevice is an in-process Device backed by a byte slice. Useful for
// tests and for running the storage pipeline under simulation.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice allocates a zeroed MemDevice of the given size.
func NewMemDevice(size uint32) *MemDevice {
	return &MemDevice{data: make([]byte, size)}
}

func (m *MemDevice) ReadAt(address uint32, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(uint32(len(m.data)), address, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[address:address+length])
	return out, nil
}

func (m *MemDevice) WriteAt(address uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(uint32(len(m.data)), address, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[address:], data)
	return nil
}

func (m *MemDevice) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.data))
}

// FileDevice is a Device backed by a regular file, standing in for a
// byte-addressable NVRAM part when running the pipeline on a host
// filesystem. Every WriteAt is followed by Sync so the write-through
// contract holds even though the underlying medium is a block device.
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size uint32
}

// OpenFileDevice opens (creating if necessary) the file at path as a
// device of size bytes, zero-padding it if it is newly created or short.
// A longer file is left as is; only its first size bytes are addressable.
func OpenFileDevice(path string, size uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("nvblock: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nvblock: stat %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("nvblock: truncate %s: %w", path, err)
		}
	}
	return &FileDevice{f: f, size: size}, nil
}

func (d *FileDevice) ReadAt(address uint32, length uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(d.size, address, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := d.f.ReadAt(buf, int64(address)); err != nil {
		return nil, fmt.Errorf("nvblock: read at %d: %w", address, err)
	}
	return buf, nil
}

func (d *FileDevice) WriteAt(address uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(d.size, address, uint32(len(data))); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(data, int64(address)); err != nil {
		return fmt.Errorf("nvblock: write at %d: %w", address, err)
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("nvblock: sync: %w", err)
	}
	return nil
}

func (d *FileDevice) Size() uint32 {
	return d.size
}

// Close releases the underlying file handle.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

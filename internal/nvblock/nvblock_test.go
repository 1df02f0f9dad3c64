package nvblock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(64)
	require.Equal(t, uint32(64), d.Size())

	require.NoError(t, d.WriteAt(10, []byte("hello")))
	got, err := d.ReadAt(10, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestMemDeviceBadRange(t *testing.T) {
	d := NewMemDevice(16)

	_, err := d.ReadAt(12, 8)
	require.ErrorIs(t, err, ErrBadRange)

	err = d.WriteAt(16, []byte{1})
	require.ErrorIs(t, err, ErrBadRange)
}

func TestFileDeviceCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nvram.bin")

	d, err := OpenFileDevice(path, 128)
	require.NoError(t, err)
	require.Equal(t, uint32(128), d.Size())

	require.NoError(t, d.WriteAt(0, []byte("abc")))
	require.NoError(t, d.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(128), info.Size())

	d2, err := OpenFileDevice(path, 128)
	require.NoError(t, err)
	defer d2.Close()
	got, err := d2.ReadAt(0, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}

func TestFileDeviceBadRange(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenFileDevice(filepath.Join(dir, "nvram.bin"), 32)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.ReadAt(30, 10)
	require.ErrorIs(t, err, ErrBadRange)
}

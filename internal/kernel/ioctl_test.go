package kernel

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIoctlCodes(t *testing.T) {
	testCases := map[string]struct {
		Code     uint32
		Expected uint32
	}{
		"GEMClose":        {Code: ioctlGEMClose, Expected: 0x40086409},
		"PrimeHandleToFD": {Code: ioctlPrimeHandleToFD, Expected: 0xc00c642d},
		"PrimeFDToHandle": {Code: ioctlPrimeFDToHandle, Expected: 0xc00c642e},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Expected, testCase.Code)
		})
	}
}

func TestVendorCodeOffset(t *testing.T) {
	type create struct {
		Size   uint64
		Handle uint32
		Pad    uint32
	}

	// DRM_IOCTL_I915_GEM_CREATE
	require.Equal(t, uint32(0xc010645b), IOWR[create](CommandBase+0x1b))
}

func TestFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmabuf")
	require.NoError(t, os.WriteFile(path, make([]byte, 12288), 0600))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	device := NewDevice(file)
	size, err := device.FileSize(int(file.Fd()))
	require.NoError(t, err)
	require.Equal(t, uint64(12288), size)
}

func TestMmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backing")
	contents := make([]byte, 8192)
	contents[4096] = 0x5a
	require.NoError(t, os.WriteFile(path, contents, 0600))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	device := NewDevice(file)
	addr, err := device.Mmap(8192, unix.PROT_READ, unix.MAP_SHARED, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0x5a), *(*byte)(unsafe.Add(addr, 4096)))
	require.NoError(t, device.Munmap(addr, 8192))

	// offsets must be page aligned
	_, err = device.Mmap(4096, unix.PROT_READ, unix.MAP_SHARED, 1)
	require.True(t, errors.Is(err, ErrMapFailed))
	require.ErrorIs(t, err, unix.EINVAL)
}

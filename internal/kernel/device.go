package kernel

import (
	"io"
	"math"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
	"github.com/NeowayLabs/drm/mode"
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Version identifies the kernel DRM driver behind a device file
type Version struct {
	Name  string
	Major int32
	Minor int32
	Patch int32
}

// DumbBuffer describes a kernel dumb buffer created with DRM_IOCTL_MODE_CREATE_DUMB
type DumbBuffer struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
}

// Device is the kernel boundary of the allocator: one open DRM device file and the syscalls
// made against it. Every backend talks to the kernel exclusively through this interface.
type Device interface {
	File() *os.File
	Fd() int
	Version() (Version, error)

	// Ioctl issues a DRM ioctl, retrying while the kernel reports EINTR or EAGAIN
	Ioctl(code uint32, arg unsafe.Pointer) error
	Mmap(length uint64, prot, flags int, offset uint64) (unsafe.Pointer, error)
	Munmap(addr unsafe.Pointer, length uint64) error

	GEMClose(handle uint32) error
	PrimeFDToHandle(fd int) (uint32, error)
	PrimeHandleToFD(handle uint32, flags int) (int, error)
	// FileSize returns the size of the object behind an arbitrary file descriptor, usually a dma-buf
	FileSize(fd int) (uint64, error)

	CreateDumb(width, height, bpp uint32) (DumbBuffer, error)
	MapDumb(handle uint32) (uint64, error)
	DestroyDumb(handle uint32) error
}

type fileDevice struct {
	file *os.File
	fd   int
}

var _ Device = &fileDevice{}

// NewDevice wraps an open DRM device file. The caller keeps ownership of the file.
func NewDevice(file *os.File) Device {
	return &fileDevice{
		file: file,
		fd:   int(file.Fd()),
	}
}

func (d *fileDevice) File() *os.File {
	return d.file
}

func (d *fileDevice) Fd() int {
	return d.fd
}

func (d *fileDevice) Version() (Version, error) {
	version, err := drm.GetVersion(d.file)
	if err != nil {
		return Version{}, errors.Wrap(err, "DRM_IOCTL_VERSION failed")
	}

	return Version{
		Name:  version.Name,
		Major: version.Major,
		Minor: version.Minor,
		Patch: version.Patch,
	}, nil
}

func (d *fileDevice) Ioctl(code uint32, arg unsafe.Pointer) error {
	for {
		err := ioctl.Do(uintptr(d.fd), uintptr(code), uintptr(arg))
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}

		return err
	}
}

func (d *fileDevice) Mmap(length uint64, prot, flags int, offset uint64) (unsafe.Pointer, error) {
	// unix.Mmap hands back a slice it tracks internally, and the allocator needs raw addresses
	// whose lifetime it manages itself
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, uintptr(length), uintptr(prot), uintptr(flags),
		uintptr(d.fd), uintptr(offset))
	if errno != 0 {
		return nil, errors.Mark(errors.Wrapf(errno, "mmap of %d bytes at offset %#x failed", length, offset), ErrMapFailed)
	}

	return unsafe.Pointer(addr), nil
}

func (d *fileDevice) Munmap(addr unsafe.Pointer, length uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(addr), uintptr(length), 0)
	if errno != 0 {
		return errors.Wrapf(errno, "munmap of %d bytes failed", length)
	}

	return nil
}

func (d *fileDevice) GEMClose(handle uint32) error {
	args := gemClose{Handle: handle}
	err := Invoke(d, ioctlGEMClose, &args)
	if err != nil {
		return errors.Wrapf(err, "DRM_IOCTL_GEM_CLOSE failed (handle=%d)", handle)
	}

	return nil
}

func (d *fileDevice) PrimeFDToHandle(fd int) (uint32, error) {
	args := primeHandle{Fd: int32(fd)}
	err := Invoke(d, ioctlPrimeFDToHandle, &args)
	if err != nil {
		return 0, errors.Wrapf(err, "DRM_IOCTL_PRIME_FD_TO_HANDLE failed (fd=%d)", fd)
	}

	return args.Handle, nil
}

func (d *fileDevice) PrimeHandleToFD(handle uint32, flags int) (int, error) {
	args := primeHandle{Handle: handle, Flags: uint32(flags), Fd: -1}
	err := Invoke(d, ioctlPrimeHandleToFD, &args)
	if err != nil {
		return -1, errors.Wrapf(err, "DRM_IOCTL_PRIME_HANDLE_TO_FD failed (handle=%d)", handle)
	}

	return int(args.Fd), nil
}

func (d *fileDevice) FileSize(fd int) (uint64, error) {
	end, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrapf(err, "lseek of fd %d failed", fd)
	}

	_, err = unix.Seek(fd, 0, io.SeekStart)
	if err != nil {
		return 0, errors.Wrapf(err, "lseek of fd %d failed", fd)
	}

	return uint64(end), nil
}

func (d *fileDevice) CreateDumb(width, height, bpp uint32) (DumbBuffer, error) {
	if width > math.MaxUint16 || height > math.MaxUint16 {
		return DumbBuffer{}, errors.Wrapf(unix.EINVAL, "dumb buffer %dx%d exceeds the kernel limit", width, height)
	}

	fb, err := mode.CreateFB(d.file, uint16(width), uint16(height), bpp)
	if err != nil {
		return DumbBuffer{}, errors.Wrap(err, "DRM_IOCTL_MODE_CREATE_DUMB failed")
	}

	return DumbBuffer{
		Handle: fb.Handle,
		Pitch:  fb.Pitch,
		Size:   fb.Size,
	}, nil
}

func (d *fileDevice) MapDumb(handle uint32) (uint64, error) {
	offset, err := mode.MapDumb(d.file, handle)
	if err != nil {
		return 0, errors.Wrapf(err, "DRM_IOCTL_MODE_MAP_DUMB failed (handle=%d)", handle)
	}

	return offset, nil
}

func (d *fileDevice) DestroyDumb(handle uint32) error {
	err := mode.DestroyDumb(d.file, handle)
	if err != nil {
		return errors.Wrapf(err, "DRM_IOCTL_MODE_DESTROY_DUMB failed (handle=%d)", handle)
	}

	return nil
}

package kernel

// struct drm_gem_close
type gemClose struct {
	Handle uint32
	Pad    uint32
}

// struct drm_prime_handle
type primeHandle struct {
	Handle uint32
	Flags  uint32
	Fd     int32
}

var (
	ioctlGEMClose        = IOW[gemClose](0x09)
	ioctlPrimeHandleToFD = IOWR[primeHandle](0x2d)
	ioctlPrimeFDToHandle = IOWR[primeHandle](0x2e)
)

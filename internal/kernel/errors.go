package kernel

import "github.com/pkg/errors"

// ErrMapFailed marks every error returned from Device.Mmap. The kernel errno stays reachable through
// errors.Is as well.
var ErrMapFailed error = errors.New("mmap failed")

package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ValidationError is the root of every error returned from a Validate method in this module
var ValidationError error = errors.New("validation failed")

// Validatable is a bookkeeping structure that can check its own consistency. DebugValidate acts on it.
type Validatable interface {
	Validate() error
}

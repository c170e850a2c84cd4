package vm

import (
	"errors"
	"fmt"

	"github.com/jward/capgate/internal/ref"
)

var (
	// ErrNoneImplemented is raised when no alternative of an either call
	// could be selected.
	ErrNoneImplemented = errors.New("vm: none of the alternatives is implemented")
	// ErrNotRewritten is raised when a construct that must be rewritten
	// reaches the machine unchanged.
	ErrNotRewritten = errors.New("vm: construct was not rewritten")
	// ErrAbsent is raised by get on an empty optional.
	ErrAbsent = errors.New("vm: optional value is absent")
	ErrNoMethod        = errors.New("vm: no such method")
	ErrNoField         = errors.New("vm: no such field")
	ErrBadCast         = errors.New("vm: bad cast")
	ErrNilReceiver     = errors.New("vm: nil receiver")
	ErrTypeMismatch    = errors.New("vm: operand type mismatch")
	ErrStackOverflow   = errors.New("vm: call depth exceeded")
	ErrIndexOutOfRange = errors.New("vm: array index out of range")
)

// NotImplementedError is raised when code reaches a capability symbol that
// has no implementation.
type NotImplementedError struct {
	Ref ref.Reference
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("vm: not implemented: %s", e.Ref)
}

// ThrownError carries a thrown value that is not itself an error.
type ThrownError struct {
	Value Value
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("vm: thrown %s", Format(e.Value))
}

// IsNotImplemented reports whether err is or wraps a NotImplementedError.
func IsNotImplemented(err error) bool {
	var ni *NotImplementedError
	return errors.As(err, &ni)
}

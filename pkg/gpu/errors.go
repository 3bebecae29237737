package gpu

import (
	"errors"
	"os"
	"syscall"
)

// Error kinds. Every error returned by a Device, enumerator or monitor
// matches exactly one of these through errors.Is.
var (
	ErrNotSupported         = errors.New("operation not supported on this device")
	ErrNoDevicesFound       = errors.New("no GPU devices found")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrQueryFailed          = errors.New("query failed")
	ErrControlFailed        = errors.New("control operation failed")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// Error carries the kind of failure, the operation that produced it and the
// underlying cause, if any.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func NotSupported(op string) error { return newError(ErrNotSupported, op, nil) }

func QueryFailed(op string, cause error) error { return newError(ErrQueryFailed, op, cause) }

func ControlFailed(op string, cause error) error { return newError(ErrControlFailed, op, cause) }

func InitializationFailed(op string, cause error) error {
	return newError(ErrInitializationFailed, op, cause)
}

func PermissionDenied(op string, cause error) error {
	return newError(ErrPermissionDenied, op, cause)
}

func InvalidArgument(op string, cause error) error {
	return newError(ErrInvalidArgument, op, cause)
}

// WriteFailed classifies a failed sysfs write: permission problems become
// ErrPermissionDenied, anything else ErrControlFailed.
func WriteFailed(op string, cause error) error {
	if errors.Is(cause, os.ErrPermission) || errors.Is(cause, syscall.EPERM) {
		return PermissionDenied(op, cause)
	}
	return ControlFailed(op, cause)
}

// IsUnavailable reports whether a failed read only leaves its value unknown.
// Every read error qualifies except ErrInitializationFailed, which means the
// vendor library is gone and no further read on the device can succeed.
func IsUnavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrInitializationFailed)
}

package bus

import "github.com/aetherbus/aetherbus/pkg/errors"

// Error codes for bus-level operations.
const (
	CodeTimeout = "BUS_TIMEOUT"
)

// ErrTimeout wraps an RPC deadline expiry.
func ErrTimeout(msg string) *errors.AppError {
	return errors.New(CodeTimeout, msg, nil)
}

// IsTimeout reports whether err is (or wraps) a bus timeout.
func IsTimeout(err error) bool {
	code, ok := errors.Code(err)
	return ok && code == CodeTimeout
}

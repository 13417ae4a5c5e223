package broker

import "github.com/aetherbus/aetherbus/pkg/errors"

// Error codes for broker operations.
const (
	CodeConnectionFailed = "BROKER_CONN_FAILED"
	CodeAppendFailed     = "BROKER_APPEND_FAILED"
	CodeReadFailed       = "BROKER_READ_FAILED"
	CodeAckFailed        = "BROKER_ACK_FAILED"
	CodeClosed           = "BROKER_CLOSED"
	CodeInvalidConfig    = "BROKER_INVALID_CONFIG"
)

// ErrConnectionFailed wraps a broker connectivity failure.
func ErrConnectionFailed(err error) *errors.AppError {
	return errors.New(CodeConnectionFailed, "failed to connect to broker", err)
}

// ErrAppendFailed wraps a publish/append failure.
func ErrAppendFailed(err error) *errors.AppError {
	return errors.New(CodeAppendFailed, "failed to append entry to stream", err)
}

// ErrReadFailed wraps a read/read-group/range failure.
func ErrReadFailed(err error) *errors.AppError {
	return errors.New(CodeReadFailed, "failed to read from stream", err)
}

// ErrAckFailed wraps an acknowledgement failure.
func ErrAckFailed(err error) *errors.AppError {
	return errors.New(CodeAckFailed, "failed to acknowledge entry", err)
}

// ErrClosed wraps an operation attempted against a closed client.
func ErrClosed(err error) *errors.AppError {
	return errors.New(CodeClosed, "broker client is closed", err)
}

// ErrInvalidConfig wraps a configuration validation failure.
func ErrInvalidConfig(msg string, err error) *errors.AppError {
	return errors.New(CodeInvalidConfig, "invalid broker configuration: "+msg, err)
}

package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation on a closed store or map.
var ErrClosed = errors.New("store is closed")

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code, the map the failure belongs to and the cause.
type Error struct {
	Code RetCode // The return code
	Map  string  // The map the operation ran against (may be empty)
	Msg  string  // The error message
	Err  error   // The underlying cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Map != "" {
		return fmt.Sprintf("StoreError (code %s, map %q): %s", e.Code, e.Map, msg)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, msg)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates an Error for the named map that wraps err.
// A nil err yields nil.
func WrapError(code RetCode, mapName string, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code: code,
		Map:  mapName,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                       // 1: Operation failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCCodec                               // 4: A record could not be encoded or decoded.
	RetCIO                                  // 5: The underlying file could not be read or written.
	RetCClosed                              // 6: The store or map is closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCCodec:
		return "Codec"
	case RetCIO:
		return "IO"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

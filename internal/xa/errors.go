package xa

import (
	"errors"
	"fmt"
)

// Code is an XA error or rollback code.
type Code int

const (
	// CodeRBRollback reports a branch rolled back for an unspecified reason.
	CodeRBRollback Code = 100
	// CodeRBTimeout reports a branch rolled back because it timed out.
	CodeRBTimeout Code = 106
	// CodeRMErr reports a resource manager failure.
	CodeRMErr Code = -3
	// CodeNoTA reports an unknown xid.
	CodeNoTA Code = -4
	// CodeInval reports invalid arguments.
	CodeInval Code = -5
	// CodeProto reports a call out of protocol order.
	CodeProto Code = -6
	// CodeDupID reports an xid already in use.
	CodeDupID Code = -8
)

var codeNames = map[Code]string{
	CodeRBRollback: "XA_RBROLLBACK",
	CodeRBTimeout:  "XA_RBTIMEOUT",
	CodeRMErr:      "XAER_RMERR",
	CodeNoTA:       "XAER_NOTA",
	CodeInval:      "XAER_INVAL",
	CodeProto:      "XAER_PROTO",
	CodeDupID:      "XAER_DUPID",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("XA(%d)", int(c))
}

// IsRollback reports whether the code is a rollback vote.
func (c Code) IsRollback() bool {
	return c >= CodeRBRollback && c <= 107
}

// Error is a two-phase commit protocol failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an error without cause.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an XA code to a cause. Nil stays nil.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in the chain.
func CodeOf(err error) (Code, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Code, true
	}
	return 0, false
}

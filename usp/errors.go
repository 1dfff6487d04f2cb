package usp

import "fmt"

// Well-known error codes (spec.md 7): 9000 is the generic failure code used
// throughout the dispatcher; 11002 is reserved for an invalid path on Get.
const (
	ErrCodeGeneric     = 9000
	ErrCodeInvalidPath = 11002
)

// ProtocolValidationError is raised while validating an incoming Record or
// Msg before dispatch; it never reaches the transport directly
// (Dispatcher.Handle wraps its message in a ProtocolViolationError).
type ProtocolValidationError struct {
	Msg string
}

func (e *ProtocolValidationError) Error() string { return e.Msg }

// ProtocolViolationError is the error Dispatcher.Handle returns when the
// incoming Record or Msg cannot be decoded or fails validation; the listener
// answers it with a minimal Error Record.
type ProtocolViolationError struct {
	Msg string
}

func (e *ProtocolViolationError) Error() string { return e.Msg }

// SetValidationError carries a tagged (err_code, err_msg) pair produced
// while resolving a Set's obj_path, replacing the original's exception-based
// control flow with an explicit result type per spec.md's design notes.
type SetValidationError struct {
	ErrCode int
	ErrMsg  string
}

func (e *SetValidationError) Error() string {
	return fmt.Sprintf("[%d] %s", e.ErrCode, e.ErrMsg)
}

// NewError builds a Msg carrying a top-level Error body echoing msgID.
func NewError(msgID string, errCode int, errMsg string) *Msg {
	return &Msg{
		Header: Header{MsgID: msgID, MsgType: MsgTypeError},
		Error:  &Error{ErrCode: errCode, ErrMsg: errMsg},
	}
}

package chore

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
)

// ValidationError is a bad user input; Msg is shown to the user as is.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a chore name the owner does not have.
type NotFoundError struct {
	Chore string
}

func (e *NotFoundError) Error() string { return "No reminder found with name: " + e.Chore }

// TransportError wraps a gateway failure. Ref is the id quoted in the
// notice posted to the chat and in the log line.
type TransportError struct {
	Op  string
	Ref string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s [%s]: %v", e.Op, e.Ref, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// StorageError wraps a store failure.
type StorageError struct {
	Op  string
	Ref string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s [%s]: %v", e.Op, e.Ref, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Ref: xid.New().String(), Err: err}
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Ref: xid.New().String(), Err: err}
}

// ErrorRef returns the reference id carried by err, if any.
func ErrorRef(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Ref
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Ref
	}
	return ""
}

// UserMessage renders err for the person who issued a command, as HTML.
func UserMessage(err error, fallback string) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "No reminder found with name: " + esc(nf.Chore)
	}
	if ref := ErrorRef(err); ref != "" {
		return fmt.Sprintf("%s (ref %s)", fallback, ref)
	}
	return fallback
}

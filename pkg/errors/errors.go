package errors

import (
	goerrors "errors"
	"fmt"
)

// FriendlyError is an error whose message is suitable for showing directly to
// the user, without the chain of contexts that led to it.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msg string
}

func (err friendlyError) Error() string {
	return err.msg
}

func (err friendlyError) FriendlyMessage() string {
	return err.msg
}

// NewFriendlyError creates an error that's shown to the user as is.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

type contextError struct {
	err     error
	context string
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// WithContext annotates `err` with a description of what was being done when
// it occurred.
func WithContext(err error, context string) error {
	return contextError{err, context}
}

// New returns an error with the given message.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return goerrors.New(format)
	}
	return fmt.Errorf(format, args...)
}

// RootCause returns the innermost error that was wrapped by WithContext.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// GetPrintableMessage returns the message that should be shown to the user
// for `err`. If a friendly error is anywhere in the chain, only its message
// is returned.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if goerrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

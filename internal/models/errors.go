package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies task failures so callers can branch without parsing messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindUpdateFailed
	KindTransport
	KindMalformedResponse
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "puppetlabs.classifier/unknown",
	KindNotFound:          "puppetlabs.classifier/not-found",
	KindUpdateFailed:      "puppetlabs.classifier/update-failed",
	KindTransport:         "puppetlabs.classifier/transport",
	KindMalformedResponse: "puppetlabs.classifier/malformed-response",
}

// String returns the kind as reported to Bolt.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// TaskError is a classified task failure.
type TaskError struct {
	Kind    ErrorKind
	Msg     string
	Details map[string]any
	Err     error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError returns a TaskError of the given kind wrapping err (which may be nil).
func NewTaskError(kind ErrorKind, err error, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first TaskError in err's chain.
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// ErrorMessage is the message reported for err: the TaskError message
// without its cause, or err.Error() for anything else.
func ErrorMessage(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Msg
	}
	return err.Error()
}

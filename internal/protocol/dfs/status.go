package dfs

import "fmt"

// Status is the result code carried by every reply. It is the entire error
// domain of the protocol: handlers translate internal failures into one of
// these before anything reaches the wire.
type Status uint32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusAlreadyExists
	StatusResourceExhausted
	StatusDeadlineExceeded
	StatusCancelled
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusAlreadyExists:
		return "ALREADY_EXISTS"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// StatusError is a protocol-level failure: a status code plus the
// human-readable message that travels in the reply header.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Errf builds a StatusError with a formatted message.
func Errf(status Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status from an error. Errors that are not
// StatusError are reported as StatusInternal; nil is StatusOK.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if se, ok := err.(*StatusError); ok {
		return se.Status
	}
	return StatusInternal
}

package feed

import "fmt"

// DecodeError means a payload was rejected as a whole. The caller must drop
// the message and leave the current snapshot untouched.
type DecodeError struct {
	// Record is the index of the offending record, or -1 for payload-level problems.
	Record int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "feed: " + e.Reason
	if e.Record >= 0 {
		msg = fmt.Sprintf("feed: record %d: %s", e.Record, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func payloadError(reason string, err error) *DecodeError {
	return &DecodeError{Record: -1, Reason: reason, Err: err}
}

func recordError(index int, reason string) *DecodeError {
	return &DecodeError{Record: index, Reason: reason}
}

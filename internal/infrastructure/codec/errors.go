package codec

import "fmt"

// DecodeError ワイヤデータが不正な場合のエラー
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(field, reason string, err error) *DecodeError {
	return &DecodeError{Field: field, Reason: reason, Err: err}
}

func decodeErrf(field, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

package facilitator

import (
	"errors"
	"fmt"
)

// ErrUnavailable ファシリテーターに到達できない
var ErrUnavailable = errors.New("facilitator unavailable")

// StatusError ファシリテーターが200以外を返した
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("facilitator returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("facilitator returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary 再試行で回復しうるステータスかどうかを返す
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

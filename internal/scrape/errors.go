// internal/scrape/errors.go
package scrape

import (
	"errors"
	"fmt"
)

// Common scrape errors
var (
	ErrNoCachedList = errors.New("no cached order list available")
	ErrNoAdapter    = errors.New("no adapter registered for shop")
)

// ErrorCode classifies a scrape failure.
type ErrorCode string

const (
	ErrCodeListFetch   ErrorCode = "LIST_FETCH"
	ErrCodeListParse   ErrorCode = "LIST_PARSE"
	ErrCodeDetailFetch ErrorCode = "DETAIL_FETCH"
	ErrCodeDetailParse ErrorCode = "DETAIL_PARSE"
	ErrCodeMedia       ErrorCode = "MEDIA"
	ErrCodeTracking    ErrorCode = "TRACKING"
	ErrCodeCache       ErrorCode = "CACHE"
)

// Error wraps a stage failure with the order/item it belongs to. Structural
// errors abort the whole run; non-structural ones are logged and the pipeline
// moves on to the next order.
type Error struct {
	Code       ErrorCode
	OrderID    string
	ItemID     string
	Message    string
	Underlying error
	Structural bool
}

func (e *Error) Error() string {
	where := ""
	if e.OrderID != "" {
		where = " order=" + e.OrderID
	}
	if e.ItemID != "" {
		where += " item=" + e.ItemID
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s:%s %s: %v", e.Code, where, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s:%s %s", e.Code, where, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Underlying: err}
}

func (e *Error) withOrder(id string) *Error {
	e.OrderID = id
	return e
}

func (e *Error) withItem(id string) *Error {
	e.ItemID = id
	return e
}

func (e *Error) structural() *Error {
	e.Structural = true
	return e
}

// IsStructural reports whether err (anywhere in its chain) is a structural
// failure that must abort the run.
func IsStructural(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Structural
}

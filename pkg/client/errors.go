package client

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrModelUpload  = errors.New("model upload failed")
	ErrImageUpload  = errors.New("image upload failed")
	ErrResultFetch  = errors.New("result fetch failed")
	ErrResultDecode = errors.New("result decode failed")
)

// Error is returned by every Client operation. StatusCode and Body are set
// when the server answered; Err is set for transport and decoding failures.
type Error struct {
	Kind       error
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

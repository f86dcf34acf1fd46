package vm

import "strings"

// Error carries a chain of context frames alongside the original cause
// (§6.4, §7 "an ordered trace of context strings"), generalizing the
// teacher's single-message object.Error into a proper error chain.
type Error struct {
	Cause  error
	Frames []string
}

func (e *Error) Error() string {
	if len(e.Frames) == 0 {
		return e.Cause.Error()
	}
	var b strings.Builder
	b.WriteString(e.Cause.Error())
	for _, f := range e.Frames {
		b.WriteString("\n  in ")
		b.WriteString(f)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// wrapFrame attaches an additional context frame to err, creating a new
// *Error if err is not already one.
func wrapFrame(err error, frame string) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*Error); ok {
		ve.Frames = append(ve.Frames, frame)
		return ve
	}
	return &Error{Cause: err, Frames: []string{frame}}
}

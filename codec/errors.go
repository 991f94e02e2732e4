package codec

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrNoDecoder    = errors.New("codec: no decoder claims the frame")
	ErrDuplicateTag = errors.New("codec: type tag already registered")
	ErrTypeMismatch = errors.New("codec: type tag mismatch")
)

// DecodeError reports a frame that could not be structurally parsed.
type DecodeError struct {
	Text   string // The offending frame
	Target string // Type tag the frame was decoded as
	Err    error
}

func (e *DecodeError) Error() string {
	target := e.Target
	if target == "" {
		target = "any registered type"
	}
	return fmt.Sprintf("could not decode %s from %q: %v", target, truncate(e.Text, 128), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a payload that could not be serialized.
type EncodeError struct {
	Value any
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("could not encode null: %v", e.Err)
	}
	return fmt.Sprintf("could not encode a %T: %v", e.Value, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

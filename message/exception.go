package message

import "errors"

// ExceptionType is the type tag of ExceptionMessage on the wire.
const ExceptionType = "socketrpc.ExceptionMessage"

// GenericException is the exception tag used for errors that do not declare one.
const GenericException = "error"

// ExceptionMessage transports a failure as data. Field names match the wire
// format shared with non-Go peers.
type ExceptionMessage struct {
	Envelope
	ExceptionClass string `json:"exceptionClassName"`
	Text           string `json:"message,omitempty"`
}

// NewException builds an exception envelope for the call with the given id.
func NewException(exceptionType, text, id string) *ExceptionMessage {
	return &ExceptionMessage{
		Envelope:       NewEnvelope(ExceptionType, id),
		ExceptionClass: exceptionType,
		Text:           text,
	}
}

// ExceptionName is the tag of the carried exception.
func (m *ExceptionMessage) ExceptionName() string { return m.ExceptionClass }

// Message is the carried text, empty when absent.
func (m *ExceptionMessage) Message() string { return m.Text }

// HasMessage reports whether the exception carried any text.
func (m *ExceptionMessage) HasMessage() bool { return m.Text != "" }

// Exception is implemented by errors that know the tag they travel under.
type Exception interface {
	error
	ExceptionType() string
}

// ExceptionOf converts err into an exception envelope for the call id.
// Errors implementing Exception (anywhere in the wrap chain) keep their tag.
func ExceptionOf(err error, id string) *ExceptionMessage {
	var exc Exception
	if errors.As(err, &exc) {
		return NewException(exc.ExceptionType(), exc.Error(), id)
	}
	return NewException(GenericException, err.Error(), id)
}

// TaggedError is an error that travels under a fixed exception tag. Sentinels
// built with NewTaggedError compare with errors.Is by identity.
type TaggedError struct {
	Tag  string
	Text string
}

func NewTaggedError(tag, text string) *TaggedError {
	return &TaggedError{Tag: tag, Text: text}
}

func (e *TaggedError) Error() string         { return e.Text }
func (e *TaggedError) ExceptionType() string { return e.Tag }

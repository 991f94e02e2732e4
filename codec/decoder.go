package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"socket-rpc/message"

	"go.uber.org/zap"
)

// envelopeDecoder decodes frames into *M, accepting only frames tagged tag.
type envelopeDecoder[M any, PM interface {
	*M
	message.RpcMessage
}] struct {
	tag string
}

// NewDecoder returns the decoder of the envelope type *M for the given tag:
//
//	codec.NewDecoder[chat.WhoisRequest](chat.WhoisTag)
func NewDecoder[M any, PM interface {
	*M
	message.RpcMessage
}](tag string) Decoder {
	return &envelopeDecoder[M, PM]{tag: tag}
}

// ExceptionDecoder returns the decoder of exception envelopes.
func ExceptionDecoder() Decoder {
	return NewDecoder[message.ExceptionMessage](message.ExceptionType)
}

func (d *envelopeDecoder[M, PM]) Tag() string { return d.tag }

// WillDecode peeks the tag first and only then confirms with a full decode,
// so a frame of a sibling family is never decoded as this one.
func (d *envelopeDecoder[M, PM]) WillDecode(text string) bool {
	tag, ok := PeekTag(text)
	if !ok || tag != d.tag {
		return false
	}
	if _, err := d.Decode(text); err != nil {
		logger().Warn("frame carries our tag but does not decode", zap.String("tag", d.tag), zap.Error(err))
		return false
	}
	return true
}

func (d *envelopeDecoder[M, PM]) Decode(text string) (message.RpcMessage, error) {
	var m M
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, &DecodeError{Text: text, Target: d.tag, Err: err}
	}
	msg := PM(&m)
	if msg.Type() != d.tag {
		return nil, &DecodeError{Text: text, Target: d.tag, Err: fmt.Errorf("%w: got %q", ErrTypeMismatch, msg.Type())}
	}
	if v, ok := any(msg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &DecodeError{Text: text, Target: d.tag, Err: err}
		}
	}
	return msg, nil
}

// FuncDecoder adapts a parse function to the Decoder contract. It serves
// families whose concrete shape is picked from the frame's fields.
type FuncDecoder struct {
	tag   string
	parse func(text string) (message.RpcMessage, error)
}

// NewFuncDecoder builds a decoder from parse. With a non-empty tag the frame
// must carry that tag to be claimed.
func NewFuncDecoder(tag string, parse func(text string) (message.RpcMessage, error)) *FuncDecoder {
	return &FuncDecoder{tag: tag, parse: parse}
}

func (d *FuncDecoder) Tag() string { return d.tag }

func (d *FuncDecoder) WillDecode(text string) bool {
	if d.tag == "" {
		return text != ""
	}
	tag, ok := PeekTag(text)
	return ok && tag == d.tag
}

func (d *FuncDecoder) Decode(text string) (message.RpcMessage, error) {
	msg, err := d.parse(text)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DecodeError{Text: text, Target: d.tag, Err: err}
	}
	return msg, nil
}

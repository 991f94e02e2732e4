// Package codec turns RPC envelopes into text frames and back.
//
// Several unrelated payload families may share one inbound channel. Each
// family registers a Decoder for its type tag; a Dispatcher reads the tag of an
// inbound frame once and hands the frame to the decoder that owns it, so no
// decoder ever fully decodes a frame meant for a sibling family:
//
//	frame ──gjson "type"──► byTag[tag] ──► Decode ──► message.RpcMessage
//	                    └─► untagged decoders, in registration order (WillDecode)
package codec

import (
	"socket-rpc/message"

	"go.uber.org/zap"
)

// Encoder serializes a payload into one text frame.
type Encoder interface {
	Encode(v any) (string, error)
}

// Decoder claims and parses the frames of one payload family.
type Decoder interface {
	// Tag is the type tag this decoder owns, or "" for families that are
	// recognised by shape rather than by tag.
	Tag() string
	// WillDecode is the admission test used when several decoders share a
	// channel. It never claims a frame whose tag belongs to another family.
	WillDecode(text string) bool
	// Decode parses the frame. Failures are reported as *DecodeError.
	Decode(text string) (message.RpcMessage, error)
}

// Validator is implemented by payloads that check their own required fields
// after decoding.
type Validator interface {
	Validate() error
}

func logger() *zap.Logger {
	return zap.L().Named("codec")
}

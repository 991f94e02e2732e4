// Package message defines the RPC envelope exchanged between remotes and servers.
//
// Every frame on the wire is a JSON object carrying at least a type tag and a
// correlation id:
//
//	{"type":"chat.WhoisRequest","id":"9b1e…","username":"alice"}
//
// The requester generates the id; the responder echoes it back verbatim in the
// reply (a ResultMessage) or in an ExceptionMessage when the call failed.
package message

// RpcMessage is the contract of every request and reply payload.
type RpcMessage interface {
	// Type is the logical message kind, checked by decoders against the tag
	// they expect before claiming a frame.
	Type() string
	// ID is the correlation id, unique among the outstanding calls of a remote.
	ID() string
}

// Envelope is the common header of every RPC payload. Payload structs embed it
// so that the type tag and the id are serialized next to their own fields.
type Envelope struct {
	Tag  string `json:"type"` // Logical message kind, e.g. "chat.PostRequest"
	Corr string `json:"id"`   // Correlation id, empty for unsolicited pushes
}

// NewEnvelope returns an envelope with the given type tag and id.
func NewEnvelope(tag, id string) Envelope {
	return Envelope{Tag: tag, Corr: id}
}

func (e Envelope) Type() string { return e.Tag }

func (e Envelope) ID() string { return e.Corr }

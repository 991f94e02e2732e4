// Package chat is a multi-user chat room served over socket sessions.
//
// Every user opens one session on /chat/{username}. Requests are RPC calls
// (post, list users, whois); posted messages reach every connected user as
// FullMessage pushes, which carry no correlation id. A user may also Say a
// PartialMessage, which is broadcast the same way without any reply.
//
// FullMessage and PartialMessage are plain records sharing the chat.Message
// tag; the decoder tells them apart by the presence of "from".
package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"socket-rpc/codec"
	"socket-rpc/message"

	"github.com/tidwall/gjson"
)

// PathPrefix is the endpoint pattern; a session path is PathPrefix+username.
const PathPrefix = "/chat/"

// Type tags on the wire.
const (
	PostTag          = "chat.PostRequest"
	PostResultTag    = "chat.PostResult"
	UsersTag         = "chat.UsersRequest"
	UsersResultTag   = "chat.UsersResult"
	WhoisTag         = "chat.WhoisRequest"
	WhoisResultTag   = "chat.WhoisResult"
	MessageTag       = "chat.Message"
	UnknownUserTag   = "chat.UnknownUserError"
	maxContentLength = 4096
)

// Texts broadcast on behalf of users joining and leaving.
const (
	Connected    = "Connected!"
	Disconnected = "Disconnected!"
)

// PostRequest publishes content to the room. The server fills in the sender.
type PostRequest struct {
	message.Envelope
	Content string `json:"content"`
}

func (r *PostRequest) Validate() error {
	if r.Content == "" {
		return errors.New("empty content")
	}
	if len(r.Content) > maxContentLength {
		return fmt.Errorf("content longer than %d bytes", maxContentLength)
	}
	return nil
}

// UsersRequest asks for the usernames currently connected.
type UsersRequest struct {
	message.Envelope
}

// WhoisRequest asks about one connected user.
type WhoisRequest struct {
	message.Envelope
	Username string `json:"username"`
}

func (r *WhoisRequest) Validate() error {
	if r.Username == "" {
		return errors.New("empty username")
	}
	return nil
}

type (
	PostResult  = message.ResultMessage[struct{}]
	UsersResult = message.ResultMessage[[]string]
	WhoisResult = message.ResultMessage[string]
)

// FullMessage is a message of the room as every user receives it.
type FullMessage struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

func NewFullMessage(from, content string) *FullMessage {
	return &FullMessage{From: from, Content: content}
}

func (m *FullMessage) Type() string { return MessageTag }
func (m *FullMessage) ID() string   { return "" }

func (m *FullMessage) String() string {
	return m.From + ": " + m.Content
}

// PartialMessage is what a user says; the server fills in the sender.
type PartialMessage struct {
	Content string `json:"content"`
}

func (m *PartialMessage) Type() string { return MessageTag }
func (m *PartialMessage) ID() string   { return "" }

// MessageEncoder writes the chat.Message tag into both message shapes.
var MessageEncoder = codec.NewTaggedEncoder(MessageTag)

// MessageDecoder decodes chat.Message frames into a *FullMessage when they
// name a sender and into a *PartialMessage otherwise.
func MessageDecoder() codec.Decoder {
	return codec.NewFuncDecoder(MessageTag, func(text string) (message.RpcMessage, error) {
		var msg message.RpcMessage = &PartialMessage{}
		if gjson.Get(text, "from").Exists() {
			msg = &FullMessage{}
		}
		if err := json.Unmarshal([]byte(text), msg); err != nil {
			return nil, err
		}
		return msg, nil
	})
}

// UnknownUserError is returned by Whois for users not connected.
type UnknownUserError struct {
	Username string
}

func (e *UnknownUserError) Error() string         { return e.Username + " is not connected" }
func (e *UnknownUserError) ExceptionType() string { return UnknownUserTag }

// RejectedError is a request the server could not accept, e.g. an empty post.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "rejected: " + e.Reason }

// ClientDecoders decode what a chat client receives.
func ClientDecoders() []codec.Decoder {
	return []codec.Decoder{
		codec.NewDecoder[PostResult](PostResultTag),
		codec.NewDecoder[UsersResult](UsersResultTag),
		codec.NewDecoder[WhoisResult](WhoisResultTag),
		MessageDecoder(),
	}
}

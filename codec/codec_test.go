package codec

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"socket-rpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sumRequest struct {
	message.Envelope
	A int `json:"a"`
	B int `json:"b"`
}

type whoisRequest struct {
	message.Envelope
	Username string `json:"username"`
}

func (r *whoisRequest) Validate() error {
	if r.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

const (
	sumTag   = "arith.SumRequest"
	whoisTag = "chat.WhoisRequest"
)

func TestWillDecodeOnlyOwnTag(t *testing.T) {
	sum := NewDecoder[sumRequest](sumTag)
	whois := NewDecoder[whoisRequest](whoisTag)
	exc := ExceptionDecoder()

	frames := map[string]string{
		sumTag:                `{"type":"arith.SumRequest","id":"1","a":1,"b":2}`,
		whoisTag:              `{"type":"chat.WhoisRequest","id":"2","username":"alice"}`,
		message.ExceptionType: `{"type":"socketrpc.ExceptionMessage","id":"3","exceptionClassName":"Boom"}`,
	}
	for owner, frame := range frames {
		for _, dec := range []Decoder{sum, whois, exc} {
			assert.Equal(t, dec.Tag() == owner, dec.WillDecode(frame), "decoder %s on frame %s", dec.Tag(), owner)
		}
	}

	assert.False(t, sum.WillDecode(""))
	assert.False(t, sum.WillDecode("not json"))
	assert.False(t, sum.WillDecode(`{"id":"1","a":1}`))
	// Carries our tag but misses a required field.
	assert.False(t, whois.WillDecode(`{"type":"chat.WhoisRequest","id":"2"}`))
}

func TestDecodeErrors(t *testing.T) {
	dec := NewDecoder[sumRequest](sumTag)

	_, err := dec.Decode(`{"type":"arith.SumRequest","a":"one"}`)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, sumTag, de.Target)
	assert.Contains(t, de.Text, `"a":"one"`)

	_, err = dec.Decode(`{"type":"chat.WhoisRequest","id":"1"}`)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewDecoder[whoisRequest](whoisTag).Decode(`{"type":"chat.WhoisRequest","id":"1"}`)
	require.ErrorAs(t, err, &de)
	assert.EqualError(t, de.Err, "username is required")
}

func TestDispatcherRoutesByTag(t *testing.T) {
	d, err := NewDispatcher(NewDecoder[sumRequest](sumTag), NewDecoder[whoisRequest](whoisTag), ExceptionDecoder())
	require.NoError(t, err)

	msg, err := d.Decode(`{"type":"chat.WhoisRequest","id":"9","username":"bob"}`)
	require.NoError(t, err)
	req, ok := msg.(*whoisRequest)
	require.True(t, ok)
	assert.Equal(t, "bob", req.Username)
	assert.Equal(t, "9", req.ID())

	msg, err = d.Decode(`{"type":"socketrpc.ExceptionMessage","id":"4","exceptionClassName":"NotFoundError","message":"missing"}`)
	require.NoError(t, err)
	exc, ok := msg.(*message.ExceptionMessage)
	require.True(t, ok)
	assert.Equal(t, "missing", exc.Message())

	_, err = d.Decode(`{"type":"unknown.Thing","id":"5"}`)
	assert.ErrorIs(t, err, ErrNoDecoder)

	assert.ElementsMatch(t, []string{sumTag, whoisTag, message.ExceptionType}, d.Tags())
}

func TestDispatcherRejectsDuplicateTag(t *testing.T) {
	_, err := NewDispatcher(NewDecoder[sumRequest](sumTag), NewDecoder[sumRequest](sumTag))
	assert.ErrorIs(t, err, ErrDuplicateTag)
	assert.Panics(t, func() { MustDispatcher(ExceptionDecoder(), ExceptionDecoder()) })
}

func TestUntaggedDecodersInOrder(t *testing.T) {
	first := NewFuncDecoder("", func(text string) (message.RpcMessage, error) {
		return &message.Envelope{Tag: "first"}, nil
	})
	second := NewFuncDecoder("", func(text string) (message.RpcMessage, error) {
		return &message.Envelope{Tag: "second"}, nil
	})
	d := MustDispatcher(first, second)

	msg, err := d.Decode(`{"content":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Type())
}

func TestFuncDecoderWrapsErrors(t *testing.T) {
	dec := NewFuncDecoder("chat.Message", func(text string) (message.RpcMessage, error) {
		return nil, errors.New("bad shape")
	})
	assert.True(t, dec.WillDecode(`{"type":"chat.Message"}`))
	assert.False(t, dec.WillDecode(`{"type":"chat.Other"}`))

	_, err := dec.Decode(`{"type":"chat.Message"}`)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "chat.Message", de.Target)
}

func TestTaggedEncoderInjectsDiscriminator(t *testing.T) {
	type record struct {
		From    string `json:"from"`
		Content string `json:"content"`
	}

	text, err := NewTaggedEncoder("chat.Message").Encode(record{From: "alice", Content: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat.Message","from":"alice","content":"hi"}`, text)

	text, err = (&JSONEncoder{Discriminator: "kind", Tag: "x"}).Encode(record{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"x","from":"","content":""}`, text)

	// Non-object values are left alone.
	text, err = NewTaggedEncoder("chat.Message").Encode([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, text)

	_, err = Encode(make(chan int))
	var ee *EncodeError
	assert.ErrorAs(t, err, &ee)
}

func TestPeekTag(t *testing.T) {
	tag, ok := PeekTag(`{"type":"a.B","id":"1"}`)
	assert.True(t, ok)
	assert.Equal(t, "a.B", tag)

	_, ok = PeekTag(`{"type":3}`)
	assert.False(t, ok)
	_, ok = PeekTag(`{"type":`)
	assert.False(t, ok)
}

func TestPeekID(t *testing.T) {
	id, ok := PeekID(`{"type":"x","id":"42","extra":[1,2]}`)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	for _, text := range []string{``, `{"type":"x"}`, `{"id":7}`, `{"id":""}`, `not json`} {
		_, ok := PeekID(text)
		assert.False(t, ok, text)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("a", 127) + strings.Repeat("é", 10)
	out := truncate(s, 128)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("a", 127)+"…", out)

	assert.Equal(t, "short", truncate("short", 128))
}

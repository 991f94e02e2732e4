package codec

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// DefaultDiscriminator is the property carrying the type tag.
const DefaultDiscriminator = "type"

// JSONEncoder marshals payloads with encoding/json. When Tag is set, the tag is
// written into the Discriminator property of the encoded object, which lets
// plain data records share a channel with envelopes of other families.
type JSONEncoder struct {
	Discriminator string // Property name, DefaultDiscriminator when empty
	Tag           string // Value to inject; nothing is injected when empty
}

// NewTaggedEncoder returns an encoder injecting tag under the default property.
func NewTaggedEncoder(tag string) *JSONEncoder {
	return &JSONEncoder{Tag: tag}
}

func (e *JSONEncoder) Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		logger().Error("could not encode", zap.Any("value", v), zap.Error(err))
		return "", &EncodeError{Value: v, Err: err}
	}
	if e.Tag != "" && gjson.ParseBytes(data).IsObject() {
		prop := e.Discriminator
		if prop == "" {
			prop = DefaultDiscriminator
		}
		data, err = sjson.SetBytes(data, prop, e.Tag)
		if err != nil {
			return "", &EncodeError{Value: v, Err: err}
		}
	}
	return string(data), nil
}

var defaultEncoder = &JSONEncoder{}

// Encode serializes an envelope, whose type tag is already one of its fields.
func Encode(v any) (string, error) {
	return defaultEncoder.Encode(v)
}

// PeekTag returns the discriminator of a frame without decoding it. ok is false
// for frames that are not JSON objects or carry no string tag.
func PeekTag(text string) (tag string, ok bool) {
	if text == "" || !gjson.Valid(text) {
		return "", false
	}
	res := gjson.Get(text, DefaultDiscriminator)
	if res.Type != gjson.String {
		return "", false
	}
	return res.Str, true
}

// PeekID returns the correlation id of a frame without decoding it, so that
// even a frame no decoder accepts can be answered.
func PeekID(text string) (id string, ok bool) {
	if text == "" || !gjson.Valid(text) {
		return "", false
	}
	res := gjson.Get(text, "id")
	if res.Type != gjson.String || res.Str == "" {
		return "", false
	}
	return res.Str, true
}

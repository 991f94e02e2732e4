package codec

import (
	"fmt"
	"sync"

	"socket-rpc/message"
)

// Dispatcher holds the decoders registered on one inbound channel.
// Registration is expected at setup time; Decode is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	byTag    map[string]Decoder
	untagged []Decoder // Tried in registration order when no tag matches
}

// NewDispatcher registers the given decoders in order.
func NewDispatcher(decoders ...Decoder) (*Dispatcher, error) {
	d := &Dispatcher{byTag: make(map[string]Decoder)}
	for _, dec := range decoders {
		if err := d.Register(dec); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// MustDispatcher is like NewDispatcher but panics on a configuration error.
func MustDispatcher(decoders ...Decoder) *Dispatcher {
	d, err := NewDispatcher(decoders...)
	if err != nil {
		panic(err)
	}
	return d
}

// Register adds a decoder. Two decoders claiming the same tag would make the
// owner of a frame ambiguous, so the second one is rejected.
func (d *Dispatcher) Register(dec Decoder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tag := dec.Tag()
	if tag == "" {
		d.untagged = append(d.untagged, dec)
		return nil
	}
	if _, ok := d.byTag[tag]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
	}
	d.byTag[tag] = dec
	return nil
}

// Decode hands the frame to the decoder owning its tag, falling back to the
// untagged decoders in the order they were registered.
func (d *Dispatcher) Decode(text string) (message.RpcMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if tag, ok := PeekTag(text); ok {
		if dec, ok := d.byTag[tag]; ok {
			return dec.Decode(text)
		}
	}
	for _, dec := range d.untagged {
		if dec.WillDecode(text) {
			return dec.Decode(text)
		}
	}
	return nil, &DecodeError{Text: text, Err: ErrNoDecoder}
}

// Tags lists the registered type tags.
func (d *Dispatcher) Tags() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tags := make([]string, 0, len(d.byTag))
	for tag := range d.byTag {
		tags = append(tags, tag)
	}
	return tags
}

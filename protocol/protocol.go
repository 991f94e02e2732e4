// Package protocol implements the frame protocol of the TCP session transport.
//
// TCP is a byte stream, so every text frame is preceded by a fixed 9-byte header
// carrying its length. The receiver reads the header first, then exactly that
// many body bytes.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │k │ bodyLen │    body ...    │
//	│ srp  │01│  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴───────────────┘
//
// A session starts with an Open frame naming the path it connects to, then
// carries Text frames in both directions, interleaved with Heartbeats, and ends
// with a Close frame whose body is the reason.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicByte1 byte = 0x73 // 's'
	MagicByte2 byte = 0x72 // 'r'
	MagicByte3 byte = 0x70 // 'p'
	Version    byte = 0x01
	HeaderSize int  = 9 // 3 (magic) + 1 (version) + 1 (kind) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt header cannot make the
	// reader allocate gigabytes.
	MaxBodyLen uint32 = 16 << 20
)

// Kind distinguishes the frames of a session.
type Kind byte

const (
	KindOpen      Kind = 0 // Client → Server: JSON OpenRequest
	KindText      Kind = 1 // One complete text frame, either direction
	KindClose     Kind = 2 // Body is the UTF-8 close reason
	KindHeartbeat Kind = 3 // Keep-alive probe, no body
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindText:
		return "text"
	case KindClose:
		return "close"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

var ErrFrameTooLarge = errors.New("protocol: frame body too large")

// Encode writes a complete frame (header + body) to w.
// Callers sharing a writer must serialize calls, otherwise frames interleave.
func Encode(w io.Writer, kind Kind, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return ErrFrameTooLarge
	}
	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(kind)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One write per frame: header and body never get split by another writer
	// sharing a buffered connection.
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame from r, validating magic, version and kind.
func Decode(r io.Reader) (Kind, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	if header[0] != MagicByte1 || header[1] != MagicByte2 || header[2] != MagicByte3 {
		return 0, nil, fmt.Errorf("invalid magic number: %x", header[0:3])
	}
	if header[3] != Version {
		return 0, nil, fmt.Errorf("unsupported version: %d", header[3])
	}
	kind := Kind(header[4])
	if kind > KindHeartbeat {
		return 0, nil, fmt.Errorf("unsupported frame kind: %d", header[4])
	}

	bodyLen := binary.BigEndian.Uint32(header[5:9])
	if bodyLen > MaxBodyLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return kind, body, nil
}

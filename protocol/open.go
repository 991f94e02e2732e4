package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/blang/semver"
)

// ProtocolVersion is the semantic version of the session protocol spoken by
// this build. Peers interoperate when the major versions match.
var ProtocolVersion = semver.MustParse("1.2.0")

// OpenRequest is the body of the Open frame.
type OpenRequest struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// NewOpenRequest returns the Open body for path, stamped with our version.
func NewOpenRequest(path string) OpenRequest {
	return OpenRequest{Path: path, Version: ProtocolVersion.String()}
}

func (o OpenRequest) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// ParseOpenRequest decodes and validates the body of an Open frame.
func ParseOpenRequest(body []byte) (OpenRequest, error) {
	var o OpenRequest
	if err := json.Unmarshal(body, &o); err != nil {
		return o, fmt.Errorf("malformed open frame: %w", err)
	}
	if o.Path == "" || o.Path[0] != '/' {
		return o, fmt.Errorf("malformed open frame: invalid path %q", o.Path)
	}
	return o, CheckVersion(o.Version)
}

// CheckVersion accepts peers speaking the same major protocol version.
func CheckVersion(peer string) error {
	v, err := semver.Parse(peer)
	if err != nil {
		return fmt.Errorf("peer protocol version %q: %w", peer, err)
	}
	if v.Major != ProtocolVersion.Major {
		return fmt.Errorf("incompatible protocol version %s (we speak %s)", v, ProtocolVersion)
	}
	return nil
}

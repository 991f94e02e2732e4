// Package registry publishes and discovers the socket endpoints of a service.
//
// Servers register one Endpoint per listening address under a TTL; clients
// discover the live endpoints and pick one through package loadbalance.
package registry

import (
	"context"
	"errors"
	"time"
)

var ErrNoEndpoints = errors.New("registry: no endpoints available")

// Endpoint is one reachable instance of a service.
type Endpoint struct {
	Addr    string `json:"addr"`              // host:port (TCP) or ws://host:port
	Path    string `json:"path,omitempty"`    // Session path prefix served there, e.g. "/chat/"
	Weight  int    `json:"weight,omitempty"`  // Weight for load balancing
	Version string `json:"version,omitempty"` // Protocol version the server speaks
}

type Registry interface {
	// Register publishes ep under service until Deregister is called or the
	// registering process stops renewing it for ttl.
	Register(ctx context.Context, service string, ep Endpoint, ttl time.Duration) error
	Deregister(ctx context.Context, service, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list once and after every change, until
	// ctx is done.
	Watch(ctx context.Context, service string) (<-chan []Endpoint, error)
}

func key(service, addr string) string {
	return prefix(service) + addr
}

func prefix(service string) string {
	return "/socket-rpc/" + service + "/"
}

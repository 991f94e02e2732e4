package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	ep      Endpoint
	expires time.Time
}

// MemoryRegistry is an in-process Registry for tests and single-host setups.
// Entries expire after their ttl; there is no renewal.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]memoryEntry
	watchers map[string][]chan struct{}
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]memoryEntry),
		watchers: make(map[string][]chan struct{}),
		now:      time.Now,
	}
}

func (r *MemoryRegistry) Register(_ context.Context, service string, ep Endpoint, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, ok := r.services[service]
	if !ok {
		entries = make(map[string]memoryEntry)
		r.services[service] = entries
	}
	e := memoryEntry{ep: ep}
	if ttl > 0 {
		e.expires = r.now().Add(ttl)
	}
	entries[ep.Addr] = e
	r.changed(service)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, service, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[service][addr]; ok {
		delete(r.services[service], addr)
		r.changed(service)
	}
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, service string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live(service), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, service string) (<-chan []Endpoint, error) {
	signal := make(chan struct{}, 1)
	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], signal)
	initial := r.live(service)
	r.mu.Unlock()

	ch := make(chan []Endpoint, 1)
	ch <- initial
	go func() {
		defer close(ch)
		defer r.unwatch(service, signal)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				r.mu.Lock()
				eps := r.live(service)
				r.mu.Unlock()
				select {
				case ch <- eps:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// live returns the unexpired endpoints sorted by address. Callers hold mu.
func (r *MemoryRegistry) live(service string) []Endpoint {
	now := r.now()
	eps := make([]Endpoint, 0, len(r.services[service]))
	for addr, e := range r.services[service] {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(r.services[service], addr)
			continue
		}
		eps = append(eps, e.ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Addr < eps[j].Addr })
	return eps
}

// changed wakes the watchers of service. Callers hold mu.
func (r *MemoryRegistry) changed(service string) {
	for _, w := range r.watchers[service] {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (r *MemoryRegistry) unwatch(service string, signal chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := r.watchers[service]
	for i, w := range ws {
		if w == signal {
			r.watchers[service] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

package transport

import (
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Mux routes opened sessions to handlers by path and keeps track of the
// sessions open on every route, so that servers can broadcast and shut down.
//
// Patterns are matched like net/http: an exact path, or a prefix ending in
// "/" matching every path below it; the longest pattern wins.
type Mux struct {
	mu       sync.RWMutex
	routes   map[string]Handler
	sessions map[string]map[string]Session // pattern → session id → session
}

func NewMux() *Mux {
	return &Mux{
		routes:   make(map[string]Handler),
		sessions: make(map[string]map[string]Session),
	}
}

// Handle registers h for pattern, replacing any previous handler.
func (m *Mux) Handle(pattern string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[pattern] = h
	if _, ok := m.sessions[pattern]; !ok {
		m.sessions[pattern] = make(map[string]Session)
	}
}

// Route returns the handler for path, wrapped so that the session is tracked
// while it is open.
func (m *Mux) Route(path string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	for pattern := range m.routes {
		if pattern == path {
			best = pattern
			break
		}
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(path, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best == "" {
		return nil, false
	}
	return &tracked{mux: m, pattern: best, inner: m.routes[best]}, true
}

// Sessions returns the sessions currently open on pattern.
func (m *Mux) Sessions(pattern string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions[pattern]))
	for _, s := range m.sessions[pattern] {
		out = append(out, s)
	}
	return out
}

// Count returns the number of open sessions on all routes.
func (m *Mux) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, set := range m.sessions {
		n += len(set)
	}
	return n
}

// CloseAll closes every tracked session with reason.
func (m *Mux) CloseAll(reason string) error {
	m.mu.RLock()
	var all []Session
	for _, set := range m.sessions {
		for _, s := range set {
			all = append(all, s)
		}
	}
	m.mu.RUnlock()

	var err error
	for _, s := range all {
		err = multierr.Append(err, s.Close(reason))
	}
	return err
}

func (m *Mux) track(pattern string, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[pattern][s.ID()] = s
}

func (m *Mux) untrack(pattern string, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions[pattern], s.ID())
}

type tracked struct {
	mux     *Mux
	pattern string
	inner   Handler
}

func (t *tracked) OnOpen(s Session) {
	t.mux.track(t.pattern, s)
	t.inner.OnOpen(s)
}

func (t *tracked) OnFrame(s Session, text string) {
	t.inner.OnFrame(s, text)
}

func (t *tracked) OnClose(s Session, reason string) {
	t.mux.untrack(t.pattern, s)
	t.inner.OnClose(s, reason)
}

package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/server"
	"socket-rpc/transport"

	"go.uber.org/zap"
)

// ServerConfig tunes the request pipeline of the room.
type ServerConfig struct {
	HandlerTimeout time.Duration // Per request; zero means 5s
	RateLimit      float64       // Requests per second over all users; zero disables
	Burst          int
	Retries        int // Retries of temporarily failing requests; zero disables
}

type member struct {
	username string
	since    time.Time
}

// Server is a chat room on top of a server.Server.
type Server struct {
	*server.Server
	room *server.Endpoint
	log  *zap.Logger

	mu      sync.RWMutex
	members map[string]member // session id → member
}

// NewServer builds the room; start it with Serve or ServeWS.
func NewServer(cfg ServerConfig, log *zap.Logger, opts ...server.Option) (*Server, error) {
	if log == nil {
		log = zap.L()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}

	srv := &Server{
		Server:  server.NewServer(append([]server.Option{server.WithLogger(log)}, opts...)...),
		log:     log.Named("chat"),
		members: make(map[string]member),
	}
	srv.Use(middleware.Logging(log), middleware.Timeout(cfg.HandlerTimeout), middleware.Recover(log))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit, max(cfg.Burst, 1)))
	}
	if cfg.Retries > 0 {
		srv.Use(middleware.Retry(cfg.Retries, 50*time.Millisecond, log))
	}

	srv.room = srv.Endpoint(PathPrefix)
	srv.room.OnSessionOpen(srv.join)
	srv.room.OnSessionClose(srv.leave)

	if err := server.Register(srv.Server, PathPrefix, PostTag, PostResultTag, srv.post); err != nil {
		return nil, err
	}
	if err := server.Register(srv.Server, PathPrefix, UsersTag, UsersResultTag, srv.users); err != nil {
		return nil, err
	}
	if err := server.Register(srv.Server, PathPrefix, WhoisTag, WhoisResultTag, srv.whois); err != nil {
		return nil, err
	}
	if err := srv.Handle(PathPrefix, MessageDecoder(), srv.say); err != nil {
		return nil, err
	}
	return srv, nil
}

// Username returns the user of the session path, e.g. "alice" for /chat/alice.
func Username(path string) string {
	name := strings.TrimPrefix(path, PathPrefix)
	if name == path || strings.Contains(name, "/") {
		return ""
	}
	return name
}

func (srv *Server) join(s transport.Session) {
	username := Username(s.Path())
	if username == "" {
		srv.log.Warn("refusing session without username", zap.String("path", s.Path()))
		// Closing from the open hook would re-enter the session; do it asynchronously
		go s.Close("a username is required: " + PathPrefix + "{username}")
		return
	}

	srv.mu.Lock()
	srv.members[s.ID()] = member{username: username, since: time.Now()}
	srv.mu.Unlock()

	srv.log.Info("user joined", zap.String("username", username), zap.String("session", s.ID()))
	srv.broadcast(NewFullMessage(username, Connected))
}

func (srv *Server) leave(s transport.Session, reason string) {
	srv.mu.Lock()
	m, ok := srv.members[s.ID()]
	delete(srv.members, s.ID())
	srv.mu.Unlock()
	if !ok {
		return
	}

	srv.log.Info("user left", zap.String("username", m.username), zap.String("reason", reason))
	srv.broadcast(NewFullMessage(m.username, Disconnected))
}

func (srv *Server) broadcast(msg *FullMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.room.BroadcastWith(ctx, MessageEncoder, msg); err != nil {
		srv.log.Warn("broadcast incomplete", zap.Stringer("message", msg), zap.Error(err))
	}
}

func (srv *Server) member(s transport.Session) (member, error) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	m, ok := srv.members[s.ID()]
	if !ok {
		return member{}, transport.ErrSessionClosed
	}
	return m, nil
}

func (srv *Server) post(_ context.Context, s transport.Session, req *PostRequest) (struct{}, error) {
	m, err := srv.member(s)
	if err != nil {
		return struct{}{}, err
	}
	srv.broadcast(NewFullMessage(m.username, req.Content))
	return struct{}{}, nil
}

// say broadcasts what a user said. Nobody waits for an answer, so bad input
// is only logged.
func (srv *Server) say(_ context.Context, s transport.Session, req message.RpcMessage) error {
	var content string
	switch m := req.(type) {
	case *PartialMessage:
		content = m.Content
	case *FullMessage:
		// The sender is the session's user, whatever the frame claims.
		content = m.Content
	default:
		return fmt.Errorf("chat: unexpected %T", req)
	}
	if content == "" || len(content) > maxContentLength {
		return fmt.Errorf("chat: dropping message of %d bytes", len(content))
	}

	m, err := srv.member(s)
	if err != nil {
		return err
	}
	srv.broadcast(NewFullMessage(m.username, content))
	return nil
}

func (srv *Server) users(context.Context, transport.Session, *UsersRequest) ([]string, error) {
	return srv.Users(), nil
}

func (srv *Server) whois(_ context.Context, _ transport.Session, req *WhoisRequest) (string, error) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	var sessions int
	var since time.Time
	for _, m := range srv.members {
		if m.username != req.Username {
			continue
		}
		sessions++
		if since.IsZero() || m.since.Before(since) {
			since = m.since
		}
	}
	if sessions == 0 {
		return "", &UnknownUserError{Username: req.Username}
	}
	return fmt.Sprintf("%s: %d session(s), connected since %s", req.Username, sessions, since.UTC().Format(time.RFC3339)), nil
}

// Users returns the connected usernames, sorted and without duplicates.
func (srv *Server) Users() []string {
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	seen := make(map[string]bool, len(srv.members))
	users := make([]string, 0, len(srv.members))
	for _, m := range srv.members {
		if !seen[m.username] {
			seen[m.username] = true
			users = append(users, m.username)
		}
	}
	sort.Strings(users)
	return users
}

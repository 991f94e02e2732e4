// Command chat-server serves a chat room over TCP and WebSocket sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"socket-rpc/chat"
	"socket-rpc/logging"
	"socket-rpc/protocol"
	"socket-rpc/registry"
	"socket-rpc/server"
	"socket-rpc/transport"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:    "chat-server",
		Usage:   "serve a chat room over socket sessions",
		Version: protocol.ProtocolVersion.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tcp", Value: ":8026", Usage: "TCP listen address, empty to disable", EnvVars: []string{"SOCKRPC_TCP"}},
			&cli.StringFlag{Name: "ws", Value: ":8025", Usage: "WebSocket listen address, empty to disable", EnvVars: []string{"SOCKRPC_WS"}},
			&cli.DurationFlag{Name: "heartbeat", Value: 30 * time.Second, Usage: "session keep-alive period", EnvVars: []string{"SOCKRPC_HEARTBEAT"}},
			&cli.DurationFlag{Name: "handler-timeout", Value: 5 * time.Second, Usage: "per request time budget", EnvVars: []string{"SOCKRPC_HANDLER_TIMEOUT"}},
			&cli.IntFlag{Name: "workers", Value: server.DefaultWorkers(), Usage: "request worker goroutines", EnvVars: []string{"SOCKRPC_WORKERS"}},
			&cli.IntFlag{Name: "queue", Value: server.DefaultQueueSize, Usage: "pending request queue size", EnvVars: []string{"SOCKRPC_QUEUE"}},
			&cli.Float64Flag{Name: "rate", Usage: "requests per second over all users, 0 for unlimited", EnvVars: []string{"SOCKRPC_RATE"}},
			&cli.IntFlag{Name: "burst", Value: 10, Usage: "rate limiter burst", EnvVars: []string{"SOCKRPC_BURST"}},
			&cli.IntFlag{Name: "retries", Usage: "retries of temporarily failing requests, 0 disables", EnvVars: []string{"SOCKRPC_RETRIES"}},
			&cli.StringFlag{Name: "etcd", Usage: "comma separated etcd endpoints to publish to", EnvVars: []string{"SOCKRPC_ETCD"}},
			&cli.StringFlag{Name: "service", Value: "Chat", Usage: "service name to publish under", EnvVars: []string{"SOCKRPC_SERVICE"}},
			&cli.StringFlag{Name: "advertise", Usage: "address published for the TCP listener, e.g. 10.0.0.5:8026", EnvVars: []string{"SOCKRPC_ADVERTISE"}},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"SOCKRPC_LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: "console", Usage: "console or json", EnvVars: []string{"SOCKRPC_LOG_FORMAT"}},
		},
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgHiRed).Sprint(err))
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	log, err := logging.New(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}
	defer log.Sync()
	defer logging.Install(log)()

	if c.String("tcp") == "" && c.String("ws") == "" {
		return errors.New("nothing to serve: both --tcp and --ws are empty")
	}

	srv, err := chat.NewServer(chat.ServerConfig{
		HandlerTimeout: c.Duration("handler-timeout"),
		RateLimit:      c.Float64("rate"),
		Burst:          c.Int("burst"),
		Retries:        c.Int("retries"),
	}, log,
		server.WithTransportOptions(transport.WithHeartbeat(c.Duration("heartbeat"))),
		server.WithDispatcherOptions(server.WithWorkers(c.Int("workers")), server.WithQueueSize(c.Int("queue"))),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	if addr := c.String("tcp"); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		go func() { errs <- srv.Serve(lis) }()
		fmt.Println(color.New(color.FgHiGreen).Sprintf("chat room on tcp %s", lis.Addr()))

		if endpoints := c.String("etcd"); endpoints != "" {
			reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), log)
			if err != nil {
				return err
			}
			defer reg.Close()
			advertise := c.String("advertise")
			if advertise == "" {
				advertise = lis.Addr().String()
			}
			if err := srv.Publish(ctx, reg, c.String("service"), advertise, 10*time.Second); err != nil {
				return err
			}
		}
	}
	if addr := c.String("ws"); addr != "" {
		go func() { errs <- srv.ServeWS(addr) }()
		fmt.Println(color.New(color.FgHiGreen).Sprintf("chat room on ws://%s%s{username}", addr, chat.PathPrefix))
	}
	fmt.Println(color.New(color.FgHiYellow).Sprint("press Ctrl-C to stop the server"))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("unclean shutdown", zap.Error(err))
	}
	return serveErr
}

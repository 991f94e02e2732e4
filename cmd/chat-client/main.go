// Command chat-client joins a chat room and relays stdin to it.
//
// Lines typed are posted to the room; "/users", "/whois NAME", "/say TEXT"
// (send without waiting for the server) and "/quit" are commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"socket-rpc/chat"
	"socket-rpc/client"
	"socket-rpc/logging"
	"socket-rpc/protocol"
	"socket-rpc/registry"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "chat-client",
		Usage:     "join a chat room",
		ArgsUsage: "USERNAME",
		Version:   protocol.ProtocolVersion.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8026", Usage: "host:port (TCP) or ws://host:port", EnvVars: []string{"SOCKRPC_ADDR"}},
			&cli.StringFlag{Name: "etcd", Usage: "comma separated etcd endpoints; discovers the server instead of --addr", EnvVars: []string{"SOCKRPC_ETCD"}},
			&cli.StringFlag{Name: "service", Value: "Chat", EnvVars: []string{"SOCKRPC_SERVICE"}},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "call timeout", EnvVars: []string{"SOCKRPC_TIMEOUT"}},
			&cli.StringFlag{Name: "log-level", Value: "warn", EnvVars: []string{"SOCKRPC_LOG_LEVEL"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("you need to specify exactly one username")
	}
	username := c.Args().First()

	log, err := logging.New(c.String("log-level"), "console")
	if err != nil {
		return err
	}
	defer log.Sync()
	defer logging.Install(log)()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []client.Option{client.WithTimeout(c.Duration("timeout")), client.WithLogger(log)}
	var room *chat.Client
	if endpoints := c.String("etcd"); endpoints != "" {
		reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), log)
		if err != nil {
			return err
		}
		defer reg.Close()
		room, err = chat.DialService(ctx, reg, c.String("service"), username, opts...)
		if err != nil {
			return err
		}
	} else {
		room, err = chat.Dial(ctx, c.String("addr"), username, opts...)
		if err != nil {
			return err
		}
	}
	defer room.Close()

	go display(room)
	go func() {
		reason, err := room.WaitUntilClosed(ctx)
		if err == nil {
			fmt.Println(yellow("session closed: " + reason))
			stop()
		}
	}()

	return prompt(ctx, room, os.Stdin)
}

func display(room *chat.Client) {
	for m := range room.Messages() {
		switch {
		case m.Content == chat.Connected || m.Content == chat.Disconnected:
			fmt.Println(yellow(m.String()))
		case m.From == room.Username():
			fmt.Println(green(m.From+": ") + m.Content)
		default:
			fmt.Println(cyan(m.From+": ") + m.Content)
		}
	}
}

func prompt(ctx context.Context, room *chat.Client, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handle(ctx, room, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, room *chat.Client, line string) (quit bool) {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/users":
		users, err := room.Users(ctx)
		if err != nil {
			fmt.Println(red(err.Error()))
			return false
		}
		fmt.Println(yellow("online: " + strings.Join(users, ", ")))
	case strings.HasPrefix(line, "/whois "):
		info, err := room.Whois(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/whois ")))
		if err != nil {
			fmt.Println(red(err.Error()))
			return false
		}
		fmt.Println(yellow(info))
	case strings.HasPrefix(line, "/say "):
		if err := room.Say(ctx, strings.TrimPrefix(line, "/say ")); err != nil {
			fmt.Println(red(err.Error()))
		}
	default:
		if err := room.Post(ctx, line); err != nil {
			fmt.Println(red(err.Error()))
		}
	}
	return false
}

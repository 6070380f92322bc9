// Command cylonn-echo is a minimal plugin. It answers every "echo/ping"
// request with its params and logs "echo/say" notifications to stderr.
//
// Init file entry:
//
//	echo: cylonn-echo
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/cylonn/internal/envelope"
	"github.com/codefionn/cylonn/internal/pluginclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: %s <socket>", os.Args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := pluginclient.Dial(ctx, os.Args[len(os.Args)-1])
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Subscribe(ctx, "echo/*"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		env, err := client.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, pluginclient.ErrClosed) {
				return nil
			}
			return err
		}
		if err := handle(client, env); err != nil {
			return err
		}
	}
}

func handle(client *pluginclient.Client, env *envelope.Envelope) error {
	switch {
	case env.Kind() == "echo/ping" && env.Shape() == envelope.Request:
		return client.Respond(env, env.Params())
	case env.Kind() == "echo/say":
		fmt.Fprintf(os.Stderr, "echo: %s\n", env.Param("text").String())
	}
	return nil
}

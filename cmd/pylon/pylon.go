// Program pylon is a command-line utility for exercising a pylon client
// against a live gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	"github.com/driftlabs/pylon"
	"github.com/driftlabs/pylon/dispatch"
	"github.com/driftlabs/pylon/rest"
	"github.com/driftlabs/pylon/state"
	"github.com/driftlabs/pylon/wire"
)

var runFlags struct {
	Token   string `flag:"token,Bot token (or set PYLON_TOKEN)"`
	Prefix  string `flag:"prefix,default=!,Command trigger prefix"`
	Shards  int    `flag:"shards,Shard count (0 uses the recommended count)"`
	Selfbot bool   `flag:"selfbot,Run as a user account"`
	Verbose bool   `flag:"v,Enable debug logging"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for running a pylon gateway client.",
		Commands: []*command.C{
			{
				Name: "run",
				Help: `Connect to the gateway and log events until interrupted.

Registers a "ping" chat command that replies "pong" in the channel where it
was triggered.`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &runFlags) },
				Run:      runClient,
			},
			{
				Name:     "gateway",
				Help:     "Print the gateway URL and recommended shard count.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &runFlags) },
				Run:      runGateway,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func token(env *command.Env) (string, error) {
	if runFlags.Token != "" {
		return runFlags.Token, nil
	}
	if t := os.Getenv("PYLON_TOKEN"); t != "" {
		return t, nil
	}
	return "", env.Usagef("a token is required (-token or PYLON_TOKEN)")
}

func runClient(env *command.Env) error {
	tok, err := token(env)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if runFlags.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := pylon.New(pylon.Options{
		Token:   tok,
		Selfbot: runFlags.Selfbot,
		Prefix:  runFlags.Prefix,
		Shards:  runFlags.Shards,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	c.On(wire.EventMessageCreate, "cli", func(ctx context.Context, evt state.Event) {
		msg := evt.Args[0].(*wire.Message)
		logger.Info("message", "channel", msg.ChannelID, "author", msg.Author.Username)
	})
	c.AddCommands(dispatch.Command{
		Name: "ping", Module: "cli", Arity: 0,
		Run: func(ctx context.Context, msg *wire.Message, _ []string) {
			if _, err := c.Rest().CreateMessage(ctx, msg.ChannelID, "pong"); err != nil {
				logger.Warn("pong failed", "err", err)
			}
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}

func runGateway(env *command.Env) error {
	tok, err := token(env)
	if err != nil {
		return err
	}
	rc, err := rest.NewClient(rest.ClientConfig{Token: tok, Selfbot: runFlags.Selfbot})
	if err != nil {
		return err
	}
	ctx := context.Background()
	var info *rest.GatewayInfo
	if runFlags.Selfbot {
		info, err = rc.Gateway(ctx)
	} else {
		info, err = rc.GatewayBot(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("url:    %s\nshards: %d\n", info.URL, info.Shards)
	return nil
}

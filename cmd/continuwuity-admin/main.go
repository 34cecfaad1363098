// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

// Continuwuity-admin drives a running server through its control
// socket: reload the service graph, inspect generations, and manage
// registration tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/continuwuity/continuwuity-sub001/lib/config"
	"github.com/continuwuity/continuwuity-sub001/lib/control"
	"github.com/continuwuity/continuwuity-sub001/lib/process"
	"github.com/continuwuity/continuwuity-sub001/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

const usage = `continuwuity-admin - control a running continuwuity server

USAGE
    continuwuity-admin [flags] <command> [command flags]

COMMANDS
    reload [--capture] [--html]      rebuild the service graph from the config file
    status                           reload phase and live generations
    features                         compiled-in features
    token issue [--max-uses N] [--expires-in DURATION] [--creator NAME]
    token revoke <token>
    token list

FLAGS
`

func run(args []string, stdout io.Writer) error {
	var (
		socketPath  string
		configPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("continuwuity-admin", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&socketPath, "socket", "s", "", "control socket path (default: from the configuration file)")
	flagSet.StringVarP(&configPath, "config", "c", "", "configuration file used to find the socket (default: $"+config.EnvVar+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintln(stdout, version.Full())
		return nil
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}

	if socketPath == "" {
		path, err := socketFromConfig(configPath)
		if err != nil {
			return err
		}
		socketPath = path
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commands := &commands{client: control.NewClient(socketPath), stdout: stdout}
	return commands.dispatch(ctx, flagSet.Args())
}

func socketFromConfig(configPath string) (string, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return "", fmt.Errorf("finding the control socket (pass --socket to skip): %w", err)
	}
	return cfg.Control.SocketPath, nil
}

type commands struct {
	client *control.Client
	stdout io.Writer
}

func (c *commands) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "reload":
		return c.reload(ctx, args[1:])
	case "status":
		return c.status(ctx)
	case "features":
		return c.features(ctx)
	case "token":
		if len(args) < 2 {
			return errors.New("token: missing subcommand (issue, revoke, list)")
		}
		switch args[1] {
		case "issue":
			return c.tokenIssue(ctx, args[2:])
		case "revoke":
			if len(args) != 3 {
				return errors.New("token revoke: expected exactly one token")
			}
			return c.tokenRevoke(ctx, args[2])
		case "list":
			return c.tokenList(ctx)
		default:
			return fmt.Errorf("token: unknown subcommand %q", args[1])
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (c *commands) reload(ctx context.Context, args []string) error {
	var captureLog, html bool
	flagSet := pflag.NewFlagSet("reload", pflag.ContinueOnError)
	flagSet.BoolVar(&captureLog, "capture", false, "print the log records emitted during the reload")
	flagSet.BoolVar(&html, "html", false, "print the captured log as HTML instead of markdown")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var response control.ReloadResponse
	fields := map[string]any{"capture": captureLog || html}
	if err := c.client.Call(ctx, control.ActionReload, fields, &response); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "generation %d published (previous %d) in %s\n",
		response.Generation, response.Previous, response.Duration.Round(time.Millisecond))
	if response.ConfigDigest != "" {
		fmt.Fprintf(c.stdout, "config digest %s\n", response.ConfigDigest)
	}
	switch {
	case html:
		fmt.Fprint(c.stdout, response.LogHTML)
	case captureLog:
		fmt.Fprint(c.stdout, response.LogMarkdown)
	}
	return nil
}

func (c *commands) status(ctx context.Context) error {
	var status control.StatusResponse
	if err := c.client.Call(ctx, control.ActionStatus, nil, &status); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "version:       %s\n", status.Version)
	fmt.Fprintf(c.stdout, "server name:   %s\n", status.ServerName)
	fmt.Fprintf(c.stdout, "phase:         %s\n", status.Phase)
	fmt.Fprintf(c.stdout, "active:        %d\n", status.Active)
	fmt.Fprintf(c.stdout, "config digest: %s\n", status.ConfigDigest)
	fmt.Fprintln(c.stdout, "generations:")
	for _, info := range status.Generations {
		state := "active"
		if info.Superseded {
			state = "draining"
		}
		fmt.Fprintf(c.stdout, "  %d\t%s\tlive=%d\tcreated %s\n",
			info.ID, state, info.Live, info.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (c *commands) features(ctx context.Context) error {
	var snapshot map[string][]string
	if err := c.client.Call(ctx, control.ActionFeatures, nil, &snapshot); err != nil {
		return err
	}
	for _, component := range slices.Sorted(maps.Keys(snapshot)) {
		fmt.Fprintf(c.stdout, "%s: %v\n", component, snapshot[component])
	}
	return nil
}

func (c *commands) tokenIssue(ctx context.Context, args []string) error {
	var (
		maxUses   uint64
		expiresIn time.Duration
		creator   string
	)
	flagSet := pflag.NewFlagSet("token issue", pflag.ContinueOnError)
	flagSet.Uint64Var(&maxUses, "max-uses", 0, "number of registrations allowed (0: unlimited)")
	flagSet.DurationVar(&expiresIn, "expires-in", 0, "lifetime of the token (0: never expires)")
	flagSet.StringVar(&creator, "creator", "", "recorded creator of the token")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	fields := map[string]any{"max_uses": maxUses}
	if creator != "" {
		fields["creator"] = creator
	}
	if expiresIn > 0 {
		fields["expires_at"] = time.Now().Add(expiresIn)
	}

	var entry control.TokenEntry
	if err := c.client.Call(ctx, control.ActionTokenIssue, fields, &entry); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, entry.Description)
	return nil
}

func (c *commands) tokenRevoke(ctx context.Context, token string) error {
	if err := c.client.Call(ctx, control.ActionTokenRevoke, map[string]any{"token": token}, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "revoked %s\n", token)
	return nil
}

func (c *commands) tokenList(ctx context.Context) error {
	var entries []control.TokenEntry
	if err := c.client.Call(ctx, control.ActionTokenList, nil, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.stdout, "no registration tokens")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(c.stdout, "- %s\n", entry.Description)
	}
	return nil
}

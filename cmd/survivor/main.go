// survivor is the field client: it composes sealed distress reports into a
// local outbox, hands them to any relay in range and collects replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/client"
	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/runtime"
)

const usage = `usage: survivor <command> [flags]

commands:
  keygen    create the shared key file
  compose   seal a report and add it to the outbox
  send      deliver the outbox to a relay
  mail      fetch orders addressed to an id
`

func main() {
	ctx, stop := runtime.SetupGracefulShutdown(context.Background(), nil)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.SurvivorConfig
	logger *zap.Logger
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(out, usage)
		return nil
	}
	cmd, rest := args[0], args[1:]

	var define func(*pflag.FlagSet) action
	switch cmd {
	case "keygen":
		define = keygenCmd
	case "compose":
		define = composeCmd
	case "send":
		define = sendCmd
	case "mail":
		define = mailCmd
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	fs := pflag.NewFlagSet("survivor "+cmd, pflag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.StringP("config", "c", "", "optional YAML/JSON config file; environment variables override it")
	act := define(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}

	e, err := newEnv(*configPath, out)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	return act(ctx, e)
}

// action runs a command once its flags are parsed.
type action func(ctx context.Context, e *env) error

func newEnv(configPath string, out io.Writer) (*env, error) {
	boot, err := config.NewLogger(os.Getenv("LOG_LEVEL"), firstNonEmpty(os.Getenv("LOG_FORMAT"), "console"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadSurvivorConfig(configPath, boot)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger.Debug("[config] survivor configs loaded:" + cfg.String())
	return &env{cfg: cfg, logger: logger, out: out}, nil
}

func (e *env) transfer() *client.Transfer {
	return client.New(client.Options{
		DiscoveryPort:  e.cfg.DiscoveryPort,
		ScanTimeout:    e.cfg.ScanTimeout,
		Attempts:       e.cfg.Attempts,
		Backoff:        e.cfg.Backoff,
		AttemptTimeout: e.cfg.AttemptTimeout,
	}, e.logger)
}

func firstNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

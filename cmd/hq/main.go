// hq is the command-side console: it lists the reports relays have synced to
// the remote store and places sealed orders for survivors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/lucaslui/resilientroute/internal/command"
	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/remote"
	"github.com/lucaslui/resilientroute/internal/runtime"
	"github.com/lucaslui/resilientroute/internal/seal"
)

const usage = `usage: hq <command> [flags]

commands:
  reports   list synced reports
  order     place an order for a survivor
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

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(out, usage)
		return nil
	}
	cmd, rest := args[0], args[1:]

	fs := pflag.NewFlagSet("hq "+cmd, pflag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.StringP("config", "c", "", "optional YAML/JSON config file; environment variables override it")

	var act func(context.Context, *command.Desk) error
	switch cmd {
	case "reports":
		limit := fs.Int("limit", 100, "maximum number of reports to list")
		act = func(ctx context.Context, d *command.Desk) error { return listReports(ctx, d, *limit, out) }
	case "order":
		target := fs.String("target", "", "survivor id the order is for (required)")
		msg := fs.String("msg", "", "order text (required)")
		act = func(ctx context.Context, d *command.Desk) error {
			if strings.TrimSpace(*msg) == "" {
				return errors.New("order: --msg is required")
			}
			o, healed, err := d.PlaceOrder(ctx, *target, *msg)
			if err != nil {
				return err
			}
			if healed {
				fmt.Fprintf(out, "order collection %s was recreated\n", d.OrderCollection)
			}
			fmt.Fprintf(out, "order for %s stored at %s\n", o.TargetID, o.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	desk, closeFn, err := openDesk(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()
	return act(ctx, desk)
}

func openDesk(configPath string) (*command.Desk, func(), error) {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "console"
	}
	boot, err := config.NewLogger(os.Getenv("LOG_LEVEL"), format)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadHQConfig(configPath, boot)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("[config] hq configs loaded:" + cfg.String())

	codec, err := seal.LoadKey(cfg.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}
	store, err := remote.Open(cfg.Remote, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
		logger.Sync()
	}
	return command.NewDesk(store, codec, cfg.Remote.ReportCollection, cfg.Remote.OrderCollection, logger), closeFn, nil
}

func listReports(ctx context.Context, d *command.Desk, limit int, out io.Writer) error {
	views, err := d.Reports(ctx, limit)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(out, "no reports")
		return nil
	}
	for _, v := range views {
		r := v.Report
		text := v.Content.Text
		if v.OpenErr != nil {
			text = "<sealed for another key>"
		}
		var media []string
		if v.Content.Image != "" {
			media = append(media, "image")
		}
		if v.Content.Audio != "" {
			media = append(media, "audio")
		}
		line := fmt.Sprintf("%s  %s  [%.5f, %.5f]  %s",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.SubjectID, r.Location.Lat, r.Location.Lon, text)
		if len(media) > 0 {
			line += "  (+" + strings.Join(media, ", ") + ")"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

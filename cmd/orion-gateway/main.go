package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"orion-gateway/internal/app"
	"orion-gateway/internal/infra/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logLevel string
	var opts app.RunOptions

	flagSet := pflag.NewFlagSet("orion-gateway", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flagSet.StringVarP(&opts.SessionID, "session", "s", "", "create (if needed) and connect this session")
	flagSet.StringVar(&opts.Owner, "owner", "", "owner recorded on a newly created session")
	flagSet.StringVar(&opts.Webhook, "webhook", "", "register a webhook URL for --session")
	flagSet.StringSliceVar(&opts.Events, "events", nil, "event filter for --webhook (default all)")
	flagSet.StringVar(&opts.QRFile, "qr-file", "", "also save pairing QR codes as PNG to this path")
	flagSet.BoolVar(&opts.Logout, "logout", false, "log --session out, purge its data and exit")
	flagSet.StringSliceVar(&opts.SendTo, "send-to", nil, "recipients of a bulk job submitted once --session is connected")
	flagSet.StringVar(&opts.Text, "text", "", "message text for --send-to")
	flagSet.DurationVar(&opts.Delay, "delay", 0, "pause between bulk sends (default from config)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if (opts.Webhook != "" || opts.Logout || len(opts.SendTo) > 0) && opts.SessionID == "" {
		return fmt.Errorf("--webhook, --logout and --send-to require --session")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Shutdown()

	opts.Out = os.Stdout
	return application.Run(ctx, opts)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `orion-gateway supervises WhatsApp sessions, mirrors their events into
SQLite and relays them to webhooks.

Every persisted session that was paired is resumed on start. With
--session, that session is created if needed and connected; a pairing QR
code is printed when it has no credentials yet.

Usage:
  orion-gateway [flags]

Flags:
%s`, flagSet.FlagUsages())
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jyothri/detach/constants"
)

const usageText = `usage: detach [flags] <command>

commands:
  search   rebuild the work queue from a mailbox search
  mark     mark every row for processing
  unmark   clear every mark
  process  back up, forward and trash the marked messages
  list     print the work queue
  login    authorize access to the mailbox and store the refresh token
  serve    run the HTTP API

flags:
`

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	options := &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.999"))
			}
			return a
		},
		Level: lvl,
	}

	handler := slog.NewTextHandler(os.Stderr, options)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(lvl)
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}
	flag.Parse()
	setupLogging(constants.LogLevel)

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := strings.ToLower(flag.Arg(0))
	if err := run(ctx, cmd); err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

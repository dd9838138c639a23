package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docdaemon/internal/api"
	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/daemon"
	"git.home.luguber.info/inful/docdaemon/internal/errors"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Daemon struct {
		Debug bool `help:"Keep build containers alive and preserve build commands in archives"`
	} `cmd:"" help:"Start the documentation build daemon"`

	Status struct {
		Host string `short:"H" help:"Daemon host" default:"localhost"`
		Port int    `short:"p" help:"Daemon status API port" default:"5555"`
	} `cmd:"" help:"Show build status of a running daemon"`

	Init struct {
		Force bool `help:"Overwrite existing configuration files"`
	} `cmd:"" help:"Initialize starter configuration files"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	adapter := errors.NewCLIErrorAdapter(CLI.Verbose, logger)

	switch ctx.Command() {
	case "daemon":
		if err := runDaemon(); err != nil {
			adapter.HandleError(err)
		}
	case "status":
		if err := runStatus(); err != nil {
			adapter.HandleError(err)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			adapter.HandleError(err)
		}
		fmt.Printf("Configuration written to %s\n", CLI.Config)
	default:
		panic(ctx.Command())
	}
}

func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal,
			"cannot load configuration")
	}
	if CLI.Daemon.Debug {
		cfg.Debug = true
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func runStatus() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d", CLI.Status.Host, CLI.Status.Port)
	status, err := api.FetchStatus(ctx, url)
	if err != nil {
		return errors.Wrap(err, errors.CategoryRuntime, errors.SeverityError,
			"cannot query daemon status")
	}

	fmt.Printf("Running builds:   %d\n", status.RunningBuilds)
	fmt.Printf("Scheduled builds: %d\n\n", status.ScheduledBuilds)

	if len(status.Jobs) == 0 {
		fmt.Println("No jobs tracked.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tBRANCH\tDC FILE\tSTATUS\tCOMMIT\tSTARTED")
	for _, job := range status.Jobs {
		started := "-"
		if job.TimeStarted > 0 {
			started = time.Unix(job.TimeStarted, 0).Format(time.RFC3339)
		}
		commit := job.Commit
		if len(commit) > 10 {
			commit = commit[:10]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.Project, job.Branch, job.DCFile, job.Status, commit, started)
	}
	return w.Flush()
}

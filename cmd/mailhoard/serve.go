package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/mailhoard/mailhoard/pkg/service"
	"github.com/rs/zerolog/log"
)

type serveCmd struct {
	pidfile string
}

func (*serveCmd) Name() string {
	return "serve"
}

func (*serveCmd) Synopsis() string {
	return "run the sync daemon for all configured accounts"
}

func (*serveCmd) Usage() string {
	return `serve:
	synchronize all accounts on the configured period until signaled
`
}

func (s *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.pidfile, "pidfile", "", "Write our PID into the specified file.")
}

func (s *serveCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	conf, closeLog, err := loadConfig()
	if err != nil {
		return fatal("Configuration error", err)
	}
	defer closeLog()

	if s.pidfile != "" {
		pidf, err := os.Create(s.pidfile)
		if err != nil {
			return fatal("Failed to create pidfile", err)
		}
		fmt.Fprintf(pidf, "%v\n", os.Getpid())
		if err := pidf.Close(); err != nil {
			return fatal("Failed to close pidfile", err)
		}
		defer removePIDFile(s.pidfile)
	}

	svc, err := service.Prod(conf)
	if err != nil {
		return fatal("Startup failed", err)
	}
	svc.Start(ctx)

	// Loop until a shutdown signal arrives.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Info().Str("phase", "shutdown").Str("signal", sig.String()).
		Msg("Received signal, shutting down")

	// Drain owns the stop ordering: threads first, then consumers, then the
	// hub and sync loop.  Canceling ctx here would tear the hub down while
	// consumers still dispatch.  Wait for active work, but not forever.
	go timedExit(s.pidfile)
	svc.Drain()
	return subcommands.ExitSuccess
}

// removePIDFile removes the PID file if created.
func removePIDFile(pidfile string) {
	if pidfile != "" {
		if err := os.Remove(pidfile); err != nil {
			log.Error().Str("phase", "shutdown").Err(err).Str("path", pidfile).
				Msg("Failed to remove pidfile")
		}
	}
}

// timedExit is called as a goroutine during shutdown, it will force an exit after 15 seconds.
func timedExit(pidfile string) {
	time.Sleep(15 * time.Second)
	removePIDFile(pidfile)
	log.Error().Str("phase", "shutdown").Msg("Clean shutdown took too long, forcing exit")
	os.Exit(0)
}

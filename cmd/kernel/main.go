// Command kernel runs the hosted Xous-style microkernel: it boots the
// process table, then serves the hosted wire protocol over TCP until a
// client sends Shutdown or the process receives SIGINT. CLI surface is
// deliberately minimal — see DESIGN.md for why this uses stdlib flag
// instead of the teacher's subcommands-based runsc CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/xous-go/kernel/internal/config"
	"github.com/xous-go/kernel/internal/dispatch"
	"github.com/xous-go/kernel/internal/transport"
	"github.com/xous-go/kernel/pkg/kernel"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	listenAddr := flag.String("listen", "", "override the listen address (default from config, env, or localhost:9687)")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := log.WithField("component", "cmd/kernel")

	cfg, err := config.Load(*configPath)
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	if err := kernel.Boot([]kernel.InitialProcess{{Satp: 1 << 22}}); err != nil {
		entry.WithError(err).Fatal("boot failed")
	}

	adapter := transport.New(log.WithField("component", "transport"))
	loop := dispatch.New(log.WithField("component", "dispatch"), adapter)

	listenErrs := make(chan error, 1)
	go func() {
		listenErrs <- adapter.Listen(cfg.ListenAddr, cfg.LockDir)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go loop.Run()

	select {
	case err := <-listenErrs:
		if err != nil {
			entry.WithError(err).Fatal("transport listener failed")
		}
	case sig := <-sigCh:
		entry.WithField("signal", sig).Info("shutting down")
		adapter.Shutdown()
		<-listenErrs
	}

	fmt.Fprintln(os.Stderr, "kernel: shut down")
}

// Command dcbproxyd is a minimal demo daemon wiring N workers, a listener
// DCB, and a trivial echo protocol module, to exercise the Descriptor
// Control Block subsystem end-to-end: spec.md's out-of-scope router/filter
// pipeline and MySQL parsers are entirely absent here, replaced by the echo
// protocol module from echoproto.go.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/sigma957/dcbcore/config"
	"github.com/sigma957/dcbcore/dcb"
	"github.com/sigma957/dcbcore/pollset"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to YAML config file. If unset, built-in defaults are used.")
		workers    = pflag.IntP("workers", "w", 0, "Number of worker goroutines. Overrides the config file when > 0.")
		listenAddr = pflag.StringP("listen", "l", "", "Listener address (host:port). Overrides the config file's first listener when set.")
		verbose    = pflag.BoolP("verbose", "v", false, "Enable debug-level logging.")
		help       = pflag.Bool("help", false, "Display help text.")
	)
	pflag.Usage = func() {
		os.Stderr.WriteString("dcbproxyd - demo Descriptor Control Block proxy daemon\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", "path", *configPath, "err", err)
		}
		cfg = loaded
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *listenAddr != "" && len(cfg.Listeners) > 0 {
		cfg.Listeners[0].Addr = *listenAddr
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dcbproxyd exited with error", "err", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	poller, err := pollset.New()
	if err != nil {
		return err
	}
	defer poller.Close()

	registry := dcb.NewRegistry(poller, logger)
	zombies := dcb.NewZombieList(logger)
	protocols := dcb.NewProtocolRegistry()
	protocols.Register("echo", newEchoProto(poller))

	listeners := make([]*dcb.DCB, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		fd, err := listenTCP(lc.Addr)
		if err != nil {
			return err
		}

		d, err := registry.Allocate(dcb.RoleListener)
		if err != nil {
			return err
		}
		d.SetFD(fd)
		d.SetAppData(lc.Protocol)
		if ok, _ := d.Transition(dcb.StateListening); !ok {
			logger.Fatal("failed to transition listener to LISTENING", "listener", lc.Name)
		}
		if err := poller.Add(d); err != nil {
			return err
		}

		logger.Info("listening", "name", lc.Name, "addr", lc.Addr, "protocol", lc.Protocol)
		listeners = append(listeners, d)
	}

	stop := make(chan struct{})
	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		w := NewWorker(uint(i), poller, registry, protocols, zombies, logger)
		workers[i] = w
		go w.Run(stop)
	}
	logger.Info("workers started", "count", cfg.Workers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	close(stop)

	for _, d := range listeners {
		_ = d.Close(zombies)
	}
	registry.Enumerate(func(d *dcb.DCB) {
		_ = d.Close(zombies)
	})
	for i := range workers {
		zombies.ProcessZombies(uint(i), registry)
	}

	return nil
}

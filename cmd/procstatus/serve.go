package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/procstatus/internal/audit"
	"github.com/breeze-rmm/procstatus/internal/config"
	"github.com/breeze-rmm/procstatus/internal/health"
	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/statusapi"
	"github.com/breeze-rmm/procstatus/internal/workerpool"
)

const shutdownTimeout = 10 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll all ports and serve their signals over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address; overrides listen_addr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	cfg, d, closer, err := localDriver(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	log.Info("starting procstatus",
		"version", version,
		"ports", len(d.Ports()),
		"verbosity", cfg.Verbosity,
		"source", cfg.Source,
	)

	monitor := health.NewMonitor()
	pool := workerpool.New(cfg.MaxConcurrentScans, len(d.Ports())+cfg.MaxConcurrentScans)
	p := poller.New(d, poller.Options{
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		Pool:     pool,
		Monitor:  monitor,
	})
	srv := statusapi.New(cfg.ListenAddr, d, p, monitor)

	stopJournal, err := startJournal(cfg, p, len(d.Ports()))
	if err != nil {
		return err
	}

	go p.Start()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reopenLog(closer)
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			break loop
		case err := <-serveErr:
			if err != nil {
				runErr = fmt.Errorf("status server failed: %w", err)
				log.Error("status server failed", logging.KeyError, err)
			}
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown incomplete", logging.KeyError, err)
	}
	p.Stop()
	<-p.Done()
	if err := pool.Shutdown(ctx); err != nil {
		log.Warn("worker pool shutdown incomplete", logging.KeyError, err)
	}
	if n := pool.Rejected(); n > 0 {
		log.Warn("scans ran on the polling goroutine because the worker pool was full", "count", n)
	}
	stopJournal()
	log.Info("stopped")
	return runErr
}

// startJournal records port transitions to the audit journal when one is
// configured. The returned function drains the tracker and closes the file.
func startJournal(cfg *config.Config, p *poller.Poller, ports int) (func(), error) {
	if cfg.AuditLog == "" {
		return func() {}, nil
	}
	journal, err := audit.NewLogger(cfg.AuditLog, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}
	journal.Log(audit.EventMonitorStart, "", map[string]any{"version": version, "ports": ports})

	cycles, unsubscribe := p.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		audit.NewTracker(journal).Follow(cycles)
	}()

	return func() {
		unsubscribe()
		<-done
		journal.Log(audit.EventMonitorStop, "", nil)
		if n := journal.DroppedCount(); n > 0 {
			log.Warn("audit entries dropped", "count", n)
		}
		journal.Close()
	}, nil
}

// reopenLog reopens a rotating log file after an external rotation.
func reopenLog(c io.Closer) {
	r, ok := c.(interface{ Reopen() error })
	if !ok {
		return
	}
	if err := r.Reopen(); err != nil {
		log.Error("failed to reopen log file", logging.KeyError, err)
		return
	}
	log.Info("log file reopened")
}

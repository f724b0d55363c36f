package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/procstatus/internal/config"
	"github.com/breeze-rmm/procstatus/internal/logging"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
)

var log = logging.L("main")

var (
	version   = "dev"
	cfgFile   string
	verbosity int
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "procstatus",
	Short: "Process presence monitor",
	Long: `procstatus reports whether configured processes are running.

Each port names a process and, optionally, an argument that must match a
regular expression. Reads report a status code (1 none, 2 unique, 3 several),
the number of matches and the pid of a unique match.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "procstatus %s (driver %s, %s/%s)\n",
			version, procstatus.Version, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.ConfigDir()+"/procstatus.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity 0 (errors) .. 4 (trace); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json; overrides the config file")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and applies command-line
// overrides. Validation problems are logged and clamped, never fatal.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("verbosity") {
		cfg.Verbosity = verbosity
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	cfg.Validate()
	return cfg, nil
}

// setupLogging points the root logger at the configured output. The returned
// closer flushes the log file, if any.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	w, closer, err := logging.Output(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.InitVerbosity(cfg.LogFormat, cfg.Verbosity, w)
	return closer, nil
}

// newSource picks the process table implementation. auto prefers /proc and
// falls back to gopsutil when it is not a usable procfs.
func newSource(cfg *config.Config) (procscan.Source, error) {
	procfs := func() *procscan.ProcFS {
		return procscan.NewProcFS(nil,
			procscan.WithRoot(cfg.ProcRoot),
			procscan.WithReadLimit(cfg.CmdlineReadLimit))
	}

	switch cfg.Source {
	case config.SourceGopsutil:
		return procscan.NewGopsutil(cfg.CmdlineReadLimit), nil
	case config.SourceProcFS:
		src := procfs()
		if err := src.Verify(); err != nil {
			return nil, err
		}
		return src, nil
	default:
		src := procfs()
		if err := src.Verify(); err != nil {
			log.Info("procfs unavailable, using gopsutil", logging.KeyError, err)
			return procscan.NewGopsutil(cfg.CmdlineReadLimit), nil
		}
		return src, nil
	}
}

// newDriver initialises a driver over src and configures every port of cfg.
// Ports that fail validation stay registered but disabled; the number of
// such ports is returned.
func newDriver(cfg *config.Config, src procscan.Source) (*procstatus.Driver, int, error) {
	d, err := procstatus.Initialise(procstatus.Options{
		Verbosity: cfg.Verbosity,
		Source:    src,
	})
	if err != nil {
		return nil, 0, err
	}

	failed := 0
	for _, p := range cfg.Ports {
		if _, err := d.Configure(portConfig(p)); err != nil {
			failed++
		}
	}
	return d, failed, nil
}

func portConfig(p config.Port) procstatus.PortConfig {
	return procstatus.PortConfig{
		Port:          p.Name,
		Process:       p.Process,
		ArgumentIndex: p.ArgumentIndex,
		Pattern:       p.Pattern,
	}
}

// localDriver is the common setup for commands that scan on this host.
func localDriver(cmd *cobra.Command) (*config.Config, *procstatus.Driver, io.Closer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	src, err := newSource(cfg)
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}
	d, _, err := newDriver(cfg, src)
	if err != nil {
		closer.Close()
		return nil, nil, nil, err
	}
	return cfg, d, closer, nil
}

var errProblems = errors.New("configuration has problems")

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/procstatus/internal/config"
	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/internal/statusapi"
	"github.com/breeze-rmm/procstatus/internal/websocket"
	"github.com/breeze-rmm/procstatus/internal/workerpool"
	"github.com/breeze-rmm/procstatus/pkg/api"
)

var (
	maskFlag   string
	remoteURL  string
	scanName   string
	scanIndex  int
	scanRegex  string
	requestTTL time.Duration
)

var readCmd = &cobra.Command{
	Use:   "read <port> <signal>",
	Short: "Read one signal (DRVVER, STATUS, COUNT, PID) of a configured port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := parseMask(maskFlag)
		if err != nil {
			return err
		}
		if remoteURL != "" {
			return readRemote(cmd.OutOrStdout(), args[0], args[1], mask)
		}
		return readLocal(cmd, args[0], args[1], mask)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan once for a process without a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := parseMask(maskFlag)
		if err != nil {
			return err
		}
		return runScan(cmd, mask)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every poll cycle, locally or from a status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if remoteURL != "" {
			return watchRemote(cmd.OutOrStdout())
		}
		return watchLocal(cmd)
	},
}

func init() {
	readCmd.Long = "Read one signal of a configured port. Signals: " + procstatus.SignalNames() + "."
	readCmd.Flags().StringVar(&maskFlag, "mask", "0xffffffff", "mask applied to STATUS")
	readCmd.Flags().StringVar(&remoteURL, "remote", "", "status server URL; read from it instead of scanning locally")
	readCmd.Flags().DurationVar(&requestTTL, "timeout", 10*time.Second, "remote request timeout")

	scanCmd.Flags().StringVar(&scanName, "process", "", "process name, compared with argv[0]")
	scanCmd.Flags().IntVar(&scanIndex, "index", 0, "1-based argument to test against --pattern (1 is argv[0]); 0 disables")
	scanCmd.Flags().StringVar(&scanRegex, "pattern", "", "regular expression for the selected argument")
	scanCmd.Flags().StringVar(&maskFlag, "mask", "0xffffffff", "mask applied to STATUS")
	scanCmd.MarkFlagRequired("process")

	watchCmd.Flags().StringVar(&remoteURL, "remote", "", "status server URL; follow its stream instead of polling locally")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
}

func parseMask(s string) (uint32, error) {
	m, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mask %q: must be a 32-bit unsigned integer", s)
	}
	return uint32(m), nil
}

func readLocal(cmd *cobra.Command, portName, signalName string, mask uint32) error {
	sig, err := procstatus.ParseSignal(signalName)
	if err != nil {
		return err
	}
	_, d, closer, err := localDriver(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	port, ok := d.Port(portName)
	if !ok {
		return fmt.Errorf("unknown port %q", portName)
	}
	v, err := port.Read(sig, mask)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", portName, sig, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.String())
	return nil
}

func readRemote(w io.Writer, portName, signalName string, mask uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTTL)
	defer cancel()

	v, err := api.NewClient(remoteURL).Read(ctx, portName, signalName, mask)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", portName, signalName, err)
	}
	fmt.Fprintln(w, v.Value)
	return nil
}

func runScan(cmd *cobra.Command, mask uint32) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	cfg.Ports = []config.Port{{Name: "scan", Process: scanName, ArgumentIndex: scanIndex, Pattern: scanRegex}}
	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	d, _, err := newDriver(cfg, src)
	if err != nil {
		return err
	}
	port, _ := d.Port("scan")
	if err := port.Err(); err != nil {
		return err
	}

	snap, err := port.Snapshot(mask)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "STATUS %d\n", snap.Status)
	fmt.Fprintf(out, "COUNT  %d\n", snap.Count)
	fmt.Fprintf(out, "PID    %d\n", snap.PID)
	return nil
}

func watchLocal(cmd *cobra.Command) error {
	cfg, d, closer, err := localDriver(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	pool := workerpool.New(cfg.MaxConcurrentScans, len(d.Ports())+cfg.MaxConcurrentScans)
	defer pool.Shutdown(context.Background())

	p := poller.New(d, poller.Options{
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		Pool:     pool,
	})
	cycles, unsubscribe := p.Subscribe()
	defer unsubscribe()

	go p.Start()
	defer func() {
		p.Stop()
		<-p.Done()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	out := cmd.OutOrStdout()
	for {
		select {
		case <-sigChan:
			return nil
		case cycle := <-cycles:
			printCycle(out, statusapi.Readings(cycle))
		}
	}
}

func watchRemote(w io.Writer) error {
	streamURL, err := api.NewClient(remoteURL).StreamURL()
	if err != nil {
		return err
	}

	sub := websocket.New(websocket.Config{StreamURL: streamURL}, func(cycle []api.Reading) {
		printCycle(w, cycle)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		sub.Stop()
	}()

	sub.Start()
	return nil
}

func printCycle(w io.Writer, cycle []api.Reading) {
	for _, r := range cycle {
		ts := r.At.Local().Format(time.TimeOnly)
		if r.Error != "" {
			fmt.Fprintf(w, "%s #%d %-16s error: %s\n", ts, r.Cycle, r.Port, r.Error)
			continue
		}
		fmt.Fprintf(w, "%s #%d %-16s status=%d count=%d pid=%d\n",
			ts, r.Cycle, r.Port, r.Snapshot.Status, r.Snapshot.Count, r.Snapshot.PID)
	}
}

//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	linuxBinaryPath  = "/usr/local/bin/procstatus"
	linuxUnitDst     = "/etc/systemd/system/procstatus.service"
	linuxConfigDir   = "/etc/procstatus"
	linuxLogDir      = "/var/log/procstatus"
	linuxServiceName = "procstatus"
)

const linuxUnit = `[Unit]
Description=procstatus process presence monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/procstatus serve --config /etc/procstatus/procstatus.yaml
ExecReload=/bin/kill -HUP $MAINPID
WorkingDirectory=/etc/procstatus
Restart=on-failure
RestartSec=5
StartLimitIntervalSec=60
StartLimitBurst=5

ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths=/var/log/procstatus
PrivateTmp=true
NoNewPrivileges=true
CapabilityBoundingSet=CAP_SYS_PTRACE CAP_DAC_READ_SEARCH
AmbientCapabilities=CAP_SYS_PTRACE CAP_DAC_READ_SEARCH

StandardOutput=journal
StandardError=journal
SyslogIdentifier=procstatus

[Install]
WantedBy=multi-user.target
`

const sampleConfig = `# procstatus configuration
verbosity: 2
poll_interval_seconds: 5
listen_addr: 127.0.0.1:5064
audit_log: /var/log/procstatus/transitions.jsonl
ports: []
#  - name: HTTP
#    process: httpd
#  - name: DAEMON
#    process: /usr/bin/perl
#    argument_index: 2
#    pattern: /ArchiveDaemon.pl
`

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the procstatus system service (systemd)",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

func requireRoot(action string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("must run as root (sudo procstatus service %s)", action)
	}
	return nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install procstatus as a systemd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("install"); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		for _, dir := range []string{linuxConfigDir, linuxLogDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}

		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}
		exePath, err = filepath.EvalSymlinks(exePath)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}
		if exePath != linuxBinaryPath {
			data, err := os.ReadFile(exePath)
			if err != nil {
				return fmt.Errorf("failed to read binary: %w", err)
			}
			if err := os.WriteFile(linuxBinaryPath, data, 0755); err != nil {
				return fmt.Errorf("failed to copy binary to %s: %w", linuxBinaryPath, err)
			}
			fmt.Fprintf(out, "Binary installed to %s\n", linuxBinaryPath)
		}

		cfgPath := filepath.Join(linuxConfigDir, "procstatus.yaml")
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", cfgPath, err)
			}
			fmt.Fprintf(out, "Sample config written to %s\n", cfgPath)
		}

		if err := os.WriteFile(linuxUnitDst, []byte(linuxUnit), 0644); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		fmt.Fprintf(out, "Systemd unit installed to %s\n", linuxUnitDst)

		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		if err := systemctl("enable", linuxServiceName); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to enable service: %v\n", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "procstatus service installed and enabled.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Next steps:")
		fmt.Fprintf(out, "  1. Configure: edit %s\n", cfgPath)
		fmt.Fprintln(out, "  2. Check:     procstatus validate --config "+cfgPath)
		fmt.Fprintln(out, "  3. Start:     sudo procstatus service start")
		fmt.Fprintln(out, "  4. Logs:      journalctl -u procstatus -f")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the procstatus systemd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("uninstall"); err != nil {
			return err
		}

		systemctl("stop", linuxServiceName)
		systemctl("disable", linuxServiceName)
		os.Remove(linuxUnitDst)
		systemctl("daemon-reload")
		os.Remove(linuxBinaryPath)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "procstatus service uninstalled.")
		fmt.Fprintf(out, "Config at %s was preserved.\n", linuxConfigDir)
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the procstatus service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("start"); err != nil {
			return err
		}
		if _, err := os.Stat(linuxUnitDst); os.IsNotExist(err) {
			return fmt.Errorf("service not installed, run 'sudo procstatus service install' first")
		}
		if err := systemctl("start", linuxServiceName); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "procstatus service started.")
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the procstatus service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot("stop"); err != nil {
			return err
		}
		if err := systemctl("stop", linuxServiceName); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "procstatus service stopped.")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show procstatus service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(linuxUnitDst); os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "Service: not installed")
			return nil
		}
		// systemctl status exits non-zero for a stopped unit.
		out, _ := exec.Command("systemctl", "status", linuxServiceName, "--no-pager").CombinedOutput()
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
		return nil
	},
}

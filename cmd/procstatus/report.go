package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/procstatus/internal/config"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/internal/statusapi"
	"github.com/breeze-rmm/procstatus/pkg/api"
)

var (
	reportDetails int
	reportFormat  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Describe every configured port",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFormat != "text" && reportFormat != "yaml" {
			return fmt.Errorf("unknown format %q (want text or yaml)", reportFormat)
		}
		if remoteURL != "" {
			return reportRemote(cmd.OutOrStdout())
		}

		cfg, d, closer, err := localDriver(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		if reportFormat == "yaml" {
			infos := make([]api.PortInfo, 0, len(d.Ports()))
			for _, p := range d.Ports() {
				infos = append(infos, statusapi.PortInfo(p.Info()))
			}
			return writeYAML(cmd.OutOrStdout(), cfg.Verbosity, infos)
		}
		d.Report(cmd.OutOrStdout(), reportDetails)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without scanning",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runValidate(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportDetails, "details", 1, "detail level; 0 lists port names only, 2 adds configuration errors")
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "output format: text or yaml")
	reportCmd.Flags().StringVar(&remoteURL, "remote", "", "status server URL; describe its ports instead of the local config")
	reportCmd.Flags().DurationVar(&requestTTL, "timeout", 10*time.Second, "remote request timeout")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(validateCmd)
}

type yamlReport struct {
	Version   string         `yaml:"version"`
	Verbosity int            `yaml:"verbosity,omitempty"`
	Ports     []api.PortInfo `yaml:"ports"`
}

func writeYAML(w io.Writer, verbosity int, ports []api.PortInfo) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(yamlReport{Version: procstatus.Version, Verbosity: verbosity, Ports: ports}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

func reportRemote(w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTTL)
	defer cancel()

	c := api.NewClient(remoteURL)
	ports, err := c.Ports(ctx)
	if err != nil {
		return err
	}
	if reportFormat == "yaml" {
		return writeYAML(w, 0, ports)
	}
	for _, p := range ports {
		text, err := c.Report(ctx, p.Port, reportDetails)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  port %s\n%s", p.Port, text)
	}
	return nil
}

// runValidate reports configuration problems and ports that would be
// disabled. Ports are built against an empty process table so nothing is
// scanned.
func runValidate(w io.Writer, cfg *config.Config) error {
	problems := 0
	for _, err := range cfg.Validate() {
		fmt.Fprintf(w, "config: %v\n", err)
		problems++
	}

	d, _, err := newDriver(cfg, procscan.StaticSource{})
	if err != nil {
		return err
	}
	for _, p := range d.Ports() {
		if err := p.Err(); err != nil {
			fmt.Fprintf(w, "port %s: disabled: %v\n", p.Name(), err)
			problems++
		}
	}

	if problems > 0 {
		return fmt.Errorf("%w: %d", errProblems, problems)
	}
	fmt.Fprintf(w, "ok: %d port(s)\n", len(cfg.Ports))
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var validSources = map[string]bool{
	SourceAuto:     true,
	SourceProcFS:   true,
	SourceGopsutil: true,
}

// Validate checks the config and returns every problem found. Out-of-range
// numbers are clamped to safe values and reported; port definitions are not
// fixed up here because the driver rejects and disables bad ports itself.
func (c *Config) Validate() []error {
	var errs []error

	if c.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("verbosity %d is below minimum 0, clamping", c.Verbosity))
		c.Verbosity = 0
	} else if c.Verbosity > 4 {
		errs = append(errs, fmt.Errorf("verbosity %d exceeds maximum 4, clamping", c.Verbosity))
		c.Verbosity = 4
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.PollIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds %d is below minimum 1, clamping", c.PollIntervalSeconds))
		c.PollIntervalSeconds = 1
	} else if c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds %d exceeds maximum 3600, clamping", c.PollIntervalSeconds))
		c.PollIntervalSeconds = 3600
	}

	if c.MaxConcurrentScans < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_scans %d is below minimum 1, clamping", c.MaxConcurrentScans))
		c.MaxConcurrentScans = 1
	} else if c.MaxConcurrentScans > 64 {
		errs = append(errs, fmt.Errorf("max_concurrent_scans %d exceeds maximum 64, clamping", c.MaxConcurrentScans))
		c.MaxConcurrentScans = 64
	}

	if c.CmdlineReadLimit < 64 {
		errs = append(errs, fmt.Errorf("cmdline_read_limit %d is below minimum 64, clamping", c.CmdlineReadLimit))
		c.CmdlineReadLimit = 64
	} else if c.CmdlineReadLimit > 1<<20 {
		errs = append(errs, fmt.Errorf("cmdline_read_limit %d exceeds maximum %d, clamping", c.CmdlineReadLimit, 1<<20))
		c.CmdlineReadLimit = 1 << 20
	}

	c.Source = strings.ToLower(c.Source)
	if !validSources[c.Source] {
		errs = append(errs, fmt.Errorf("source %q is not valid (use auto, procfs or gopsutil)", c.Source))
	}

	if c.AuditLog != "" && c.AuditMaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("audit_max_size_mb %d is below minimum 1, clamping", c.AuditMaxSizeMB))
		c.AuditMaxSizeMB = 1
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		}
	}

	seen := make(map[string]bool, len(c.Ports))
	for i, p := range c.Ports {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("ports[%d]: name is empty", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("ports[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Process == "" {
			errs = append(errs, fmt.Errorf("ports[%d] %q: process is empty", i, p.Name))
		}
		if p.ArgumentIndex < 0 {
			errs = append(errs, fmt.Errorf("ports[%d] %q: argument_index %d is negative", i, p.Name, p.ArgumentIndex))
		}
		if p.ArgumentIndex > 0 && p.Pattern == "" {
			errs = append(errs, fmt.Errorf("ports[%d] %q: pattern is required when argument_index > 0", i, p.Name))
		}
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

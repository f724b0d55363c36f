package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Port is one monitored process, the equivalent of a configure call in a
// startup script.
type Port struct {
	Name          string `mapstructure:"name"`
	Process       string `mapstructure:"process"`
	ArgumentIndex int    `mapstructure:"argument_index"`
	Pattern       string `mapstructure:"pattern"`
}

type Config struct {
	Verbosity     int    `mapstructure:"verbosity"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	ListenAddr          string `mapstructure:"listen_addr"`
	MaxConcurrentScans  int    `mapstructure:"max_concurrent_scans"`

	Source           string `mapstructure:"source"`
	ProcRoot         string `mapstructure:"proc_root"`
	CmdlineReadLimit int    `mapstructure:"cmdline_read_limit"`

	AuditLog        string `mapstructure:"audit_log"`
	AuditMaxSizeMB  int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int    `mapstructure:"audit_max_backups"`

	Ports []Port `mapstructure:"ports"`
}

// Source names accepted by the source key.
const (
	SourceAuto     = "auto"
	SourceProcFS   = "procfs"
	SourceGopsutil = "gopsutil"
)

func Default() *Config {
	return &Config{
		Verbosity:           2,
		LogFormat:           "text",
		LogMaxSizeMB:        10,
		LogMaxBackups:       3,
		PollIntervalSeconds: 5,
		ListenAddr:          "127.0.0.1:5064",
		MaxConcurrentScans:  4,
		Source:              SourceAuto,
		ProcRoot:            "/proc",
		CmdlineReadLimit:    1024,
		AuditMaxSizeMB:      50,
		AuditMaxBackups:     3,
	}
}

// Load reads cfgFile, or procstatus.yaml from the default search path when
// cfgFile is empty. A missing default file is not an error. Scalar keys can
// be overridden with PROCSTATUS_<KEY> environment variables.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("procstatus")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper binds every scalar key to its environment variable and default.
// Unmarshal only consults keys viper knows about, so defaults are registered
// explicitly rather than relying on AutomaticEnv alone.
func newViper(def *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PROCSTATUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("verbosity", def.Verbosity)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)
	v.SetDefault("poll_interval_seconds", def.PollIntervalSeconds)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("max_concurrent_scans", def.MaxConcurrentScans)
	v.SetDefault("source", def.Source)
	v.SetDefault("proc_root", def.ProcRoot)
	v.SetDefault("cmdline_read_limit", def.CmdlineReadLimit)
	v.SetDefault("audit_log", def.AuditLog)
	v.SetDefault("audit_max_size_mb", def.AuditMaxSizeMB)
	v.SetDefault("audit_max_backups", def.AuditMaxBackups)
	return v
}

// ConfigDir is the directory searched first for procstatus.yaml.
func ConfigDir() string { return configDir() }

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "procstatus")
	case "darwin":
		return "/Library/Application Support/procstatus"
	default:
		return "/etc/procstatus"
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type ShareType string

const (
	ShareTypeLocal ShareType = "local"
	ShareTypeNFS   ShareType = "nfs"
	ShareTypeS3    ShareType = "s3"
)

// ShareConfig describes one backup share. Declared order is placement priority.
type ShareConfig struct {
	Name string    `mapstructure:"name"`
	Type ShareType `mapstructure:"type"`

	// local / nfs
	Path   string `mapstructure:"path"`
	Export string `mapstructure:"export"` // nfs only, e.g. "server1:/exports/vault"

	// s3 (also used for Swift through its S3 API)
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`

	// Optional hard capacity; required for object stores
	CapacityBytes int64 `mapstructure:"capacity_bytes"`
}

type Config struct {
	Shares []ShareConfig `mapstructure:"shares"`

	// Optional API settings
	APIHost string `mapstructure:"api_host"`
	APIPort int    `mapstructure:"api_port"`

	// Optional SSL settings
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`

	CORSOrigins []string `mapstructure:"cors_origins"`

	LogFile   string `mapstructure:"log_file"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	DBPath             string `mapstructure:"db_path"`
	CloudUniqueID      string `mapstructure:"cloud_unique_id"`
	VaultDataDirectory string `mapstructure:"vault_data_directory"`

	VaultRetryCount  int           `mapstructure:"vault_retry_count"`
	VaultRetryDelay  time.Duration `mapstructure:"vault_retry_delay"`
	VaultSegmentSize int64         `mapstructure:"vault_segment_size"`

	// Percentages of the VM disk size a full / incremental snapshot is expected to occupy
	FullBackupFactor  int64 `mapstructure:"workload_full_backup_factor"`
	IncrBackupFactor  int64 `mapstructure:"workload_incr_backup_factor"`
	DefaultVMDiskSize int64 `mapstructure:"default_vm_disk_size"`

	MaxConcurrentSnapshotStarts int64         `mapstructure:"max_concurrent_snapshot_starts"`
	RetentionSweepInterval      time.Duration `mapstructure:"retention_sweep_interval"`

	AgentSocketPath string        `mapstructure:"agent_socket_path"`
	AgentTimeout    time.Duration `mapstructure:"agent_timeout"`

	ConfigPath string
}

const (
	DefaultConfigPath             = "/etc/vmvault/config.yml"
	DefaultDBPath                 = "/var/lib/vmvault/db.sqlite3"
	DefaultAgentSocketPath        = "/var/run/vmvault/agent.sock"
	DefaultVaultDataDirectory     = "/var/lib/vmvault/mounts"
	DefaultAPIHost                = "0.0.0.0"
	DefaultAPIPort                = 8780
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultCloudUniqueID          = "default"
	DefaultVaultRetryCount        = 2
	DefaultVaultRetryDelay        = 10 * time.Millisecond
	DefaultVaultSegmentSize       = 500 * 1024 * 1024
	DefaultFullBackupFactor       = 50
	DefaultIncrBackupFactor       = 10
	DefaultVMDiskSize             = 10 * 1024 * 1024 * 1024
	DefaultMaxConcurrentStarts    = 1
	DefaultRetentionSweepInterval = time.Hour
	DefaultAgentTimeout           = 30 * time.Second
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_host", DefaultAPIHost)
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("cloud_unique_id", DefaultCloudUniqueID)
	v.SetDefault("vault_data_directory", DefaultVaultDataDirectory)
	v.SetDefault("vault_retry_count", DefaultVaultRetryCount)
	v.SetDefault("vault_retry_delay", DefaultVaultRetryDelay)
	v.SetDefault("vault_segment_size", DefaultVaultSegmentSize)
	v.SetDefault("workload_full_backup_factor", DefaultFullBackupFactor)
	v.SetDefault("workload_incr_backup_factor", DefaultIncrBackupFactor)
	v.SetDefault("default_vm_disk_size", DefaultVMDiskSize)
	v.SetDefault("max_concurrent_snapshot_starts", DefaultMaxConcurrentStarts)
	v.SetDefault("retention_sweep_interval", DefaultRetentionSweepInterval)
	v.SetDefault("agent_socket_path", DefaultAgentSocketPath)
	v.SetDefault("agent_timeout", DefaultAgentTimeout)
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// Allow environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("VMVAULT")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigPath = configPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Shares) == 0 {
		return fmt.Errorf("at least one share is required")
	}

	seen := make(map[string]bool)
	for i, share := range c.Shares {
		if share.Name == "" {
			return fmt.Errorf("shares[%d]: name is required", i)
		}
		if seen[share.Name] {
			return fmt.Errorf("shares[%d]: duplicate share name %q", i, share.Name)
		}
		seen[share.Name] = true

		switch share.Type {
		case ShareTypeLocal:
			if share.Path == "" {
				return fmt.Errorf("share %s: path is required for local shares", share.Name)
			}
		case ShareTypeNFS:
			if share.Export == "" {
				return fmt.Errorf("share %s: export is required for nfs shares", share.Name)
			}
		case ShareTypeS3:
			if share.Bucket == "" {
				return fmt.Errorf("share %s: bucket is required for s3 shares", share.Name)
			}
			if share.CapacityBytes <= 0 {
				return fmt.Errorf("share %s: capacity_bytes is required for s3 shares", share.Name)
			}
		default:
			return fmt.Errorf("share %s: type must be 'local', 'nfs' or 's3'", share.Name)
		}
	}

	if c.FullBackupFactor < 0 || c.FullBackupFactor > 100 {
		return fmt.Errorf("workload_full_backup_factor must be between 0 and 100")
	}
	if c.IncrBackupFactor < 0 || c.IncrBackupFactor > 100 {
		return fmt.Errorf("workload_incr_backup_factor must be between 0 and 100")
	}
	if c.VaultRetryCount < 0 {
		return fmt.Errorf("vault_retry_count must not be negative")
	}
	if c.VaultRetryDelay <= 0 {
		return fmt.Errorf("vault_retry_delay must be positive")
	}
	if c.VaultSegmentSize <= 0 {
		return fmt.Errorf("vault_segment_size must be positive")
	}
	if c.MaxConcurrentSnapshotStarts < 1 {
		return fmt.Errorf("max_concurrent_snapshot_starts must be at least 1")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'text' or 'json'")
	}

	// Validate SSL config if provided
	if c.SSLCert != "" || c.SSLKey != "" {
		if c.SSLCert == "" || c.SSLKey == "" {
			return fmt.Errorf("both ssl_cert and ssl_key must be provided")
		}
		if _, err := os.Stat(c.SSLCert); os.IsNotExist(err) {
			return fmt.Errorf("ssl_cert file does not exist: %s", c.SSLCert)
		}
		if _, err := os.Stat(c.SSLKey); os.IsNotExist(err) {
			return fmt.Errorf("ssl_key file does not exist: %s", c.SSLKey)
		}
	}

	return nil
}

func (c *Config) IsDevMode() bool {
	return os.Getenv("VMVAULT_DEV_MODE") == "1"
}

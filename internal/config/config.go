// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Certificates  CertificateConfig  `yaml:"certificates"`
	Reports       ReportConfig       `yaml:"reports"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Hosting       []HostingConfig    `yaml:"hosting"`
	Include       IncludeConfig      `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	// HistoryRetention of zero keeps the check log forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
	CleanupSchedule  string        `yaml:"cleanup_schedule"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	Workers          int           `yaml:"workers"`
	HealthyStatus    []string      `yaml:"healthy_status"`
	SnapshotDir      string        `yaml:"snapshot_dir"`
	SnapshotMaxBytes int64         `yaml:"snapshot_max_bytes"`
	RegistryRefresh  time.Duration `yaml:"registry_refresh"`
	UserAgent        string        `yaml:"user_agent"`
}

type CertificateConfig struct {
	Schedule    string        `yaml:"schedule"`
	WarningDays int           `yaml:"warning_days"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	CertDir     string        `yaml:"cert_dir"`
	ACME        ACMEConfig    `yaml:"acme"`
}

type ACMEConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DirectoryURL string        `yaml:"directory_url"`
	Email        string        `yaml:"email"`
	AccountKey   string        `yaml:"account_key"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ReportConfig struct {
	Timezone string `yaml:"timezone"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HostingConfig is a hosting record owned by the surrounding application.
// The engine only reads it to derive what to monitor.
type HostingConfig struct {
	ID     string `yaml:"id"`
	Domain string `yaml:"domain"`
	URL    string `yaml:"url,omitempty"`
	Client string `yaml:"client,omitempty"`
	Active bool   `yaml:"active"`
}

// PartialConfig represents a partial configuration that can be merged
type PartialConfig struct {
	Server        *ServerConfig       `yaml:"server,omitempty"`
	Database      *DatabaseConfig     `yaml:"database,omitempty"`
	Prometheus    *PrometheusConfig   `yaml:"prometheus,omitempty"`
	Monitoring    *MonitoringConfig   `yaml:"monitoring,omitempty"`
	Certificates  *CertificateConfig  `yaml:"certificates,omitempty"`
	Reports       *ReportConfig       `yaml:"reports,omitempty"`
	Logging       *LoggingConfig      `yaml:"logging,omitempty"`
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
	Hosting       []HostingConfig     `yaml:"hosting,omitempty"`
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Defaults returns a configuration with every default applied and no hosting records.
func Defaults() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if len(partial.Hosting) > 0 {
		mergeHosting(config, partial.Hosting)
	}

	if partial.Server != nil {
		mergeServerConfig(&config.Server, partial.Server)
	}
	if partial.Database != nil {
		mergeDatabaseConfig(&config.Database, partial.Database)
	}
	if partial.Prometheus != nil {
		mergePrometheusConfig(&config.Prometheus, partial.Prometheus)
	}
	if partial.Monitoring != nil {
		mergeMonitoringConfig(&config.Monitoring, partial.Monitoring)
	}
	if partial.Certificates != nil {
		mergeCertificateConfig(&config.Certificates, partial.Certificates)
	}
	if partial.Reports != nil && partial.Reports.Timezone != "" {
		config.Reports.Timezone = partial.Reports.Timezone
	}
	if partial.Logging != nil {
		mergeLoggingConfig(&config.Logging, partial.Logging)
	}
	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
}

// mergeHosting replaces records with a known ID and appends the rest.
func mergeHosting(config *Config, records []HostingConfig) {
	existing := make(map[string]int, len(config.Hosting))
	for i, rec := range config.Hosting {
		existing[rec.ID] = i
	}

	for _, rec := range records {
		if idx, ok := existing[rec.ID]; ok {
			config.Hosting[idx] = rec
			continue
		}
		config.Hosting = append(config.Hosting, rec)
		existing[rec.ID] = len(config.Hosting) - 1
	}
}

func mergeServerConfig(main *ServerConfig, partial *ServerConfig) {
	if partial.Port != "" {
		main.Port = partial.Port
	}
	if partial.ReadTimeout != 0 {
		main.ReadTimeout = partial.ReadTimeout
	}
	if partial.WriteTimeout != 0 {
		main.WriteTimeout = partial.WriteTimeout
	}
}

func mergeDatabaseConfig(main *DatabaseConfig, partial *DatabaseConfig) {
	if partial.Type != "" {
		main.Type = partial.Type
	}
	if partial.Path != "" {
		main.Path = partial.Path
	}
	if partial.HistoryRetention != 0 {
		main.HistoryRetention = partial.HistoryRetention
	}
	if partial.CleanupSchedule != "" {
		main.CleanupSchedule = partial.CleanupSchedule
	}
}

func mergePrometheusConfig(main *PrometheusConfig, partial *PrometheusConfig) {
	main.Enabled = partial.Enabled
	if partial.MetricsPath != "" {
		main.MetricsPath = partial.MetricsPath
	}
}

func mergeMonitoringConfig(main *MonitoringConfig, partial *MonitoringConfig) {
	if partial.Interval != 0 {
		main.Interval = partial.Interval
	}
	if partial.Timeout != 0 {
		main.Timeout = partial.Timeout
	}
	if partial.Workers != 0 {
		main.Workers = partial.Workers
	}
	if len(partial.HealthyStatus) > 0 {
		main.HealthyStatus = partial.HealthyStatus
	}
	if partial.SnapshotDir != "" {
		main.SnapshotDir = partial.SnapshotDir
	}
	if partial.SnapshotMaxBytes != 0 {
		main.SnapshotMaxBytes = partial.SnapshotMaxBytes
	}
	if partial.RegistryRefresh != 0 {
		main.RegistryRefresh = partial.RegistryRefresh
	}
	if partial.UserAgent != "" {
		main.UserAgent = partial.UserAgent
	}
}

func mergeCertificateConfig(main *CertificateConfig, partial *CertificateConfig) {
	if partial.Schedule != "" {
		main.Schedule = partial.Schedule
	}
	if partial.WarningDays != 0 {
		main.WarningDays = partial.WarningDays
	}
	if partial.Timeout != 0 {
		main.Timeout = partial.Timeout
	}
	if partial.Concurrency != 0 {
		main.Concurrency = partial.Concurrency
	}
	if partial.CertDir != "" {
		main.CertDir = partial.CertDir
	}
	if partial.ACME.DirectoryURL != "" || partial.ACME.Enabled {
		main.ACME = partial.ACME
	}
}

func mergeLoggingConfig(main *LoggingConfig, partial *LoggingConfig) {
	if partial.Level != "" {
		main.Level = partial.Level
	}
	if partial.Format != "" {
		main.Format = partial.Format
	}
	if partial.File != "" {
		main.File = partial.File
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/hostwatch.db"
	}
	if cfg.Database.CleanupSchedule == "" {
		cfg.Database.CleanupSchedule = "@every 6h"
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	if cfg.Monitoring.Interval == 0 {
		cfg.Monitoring.Interval = 5 * time.Minute
	}
	if cfg.Monitoring.Timeout == 0 {
		cfg.Monitoring.Timeout = 10 * time.Second
	}
	if cfg.Monitoring.Workers == 0 {
		cfg.Monitoring.Workers = 8
	}
	if len(cfg.Monitoring.HealthyStatus) == 0 {
		cfg.Monitoring.HealthyStatus = []string{"2xx", "3xx"}
	}
	if cfg.Monitoring.SnapshotDir == "" {
		cfg.Monitoring.SnapshotDir = "./data/snapshots"
	}
	if cfg.Monitoring.SnapshotMaxBytes == 0 {
		cfg.Monitoring.SnapshotMaxBytes = 512 * 1024
	}
	if cfg.Monitoring.RegistryRefresh == 0 {
		cfg.Monitoring.RegistryRefresh = time.Minute
	}
	if cfg.Monitoring.UserAgent == "" {
		cfg.Monitoring.UserAgent = "hostwatch/1.0 uptime check"
	}

	if cfg.Certificates.Schedule == "" {
		cfg.Certificates.Schedule = "0 4 * * *"
	}
	if cfg.Certificates.WarningDays == 0 {
		cfg.Certificates.WarningDays = 14
	}
	if cfg.Certificates.Timeout == 0 {
		cfg.Certificates.Timeout = 10 * time.Second
	}
	if cfg.Certificates.Concurrency == 0 {
		cfg.Certificates.Concurrency = 4
	}
	if cfg.Certificates.CertDir == "" {
		cfg.Certificates.CertDir = "./data/certs"
	}
	if cfg.Certificates.ACME.DirectoryURL == "" {
		cfg.Certificates.ACME.DirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"
	}
	if cfg.Certificates.ACME.AccountKey == "" {
		cfg.Certificates.ACME.AccountKey = filepath.Join(cfg.Certificates.CertDir, "acme-account.key")
	}
	if cfg.Certificates.ACME.Timeout == 0 {
		cfg.Certificates.ACME.Timeout = 2 * time.Minute
	}

	if cfg.Reports.Timezone == "" {
		cfg.Reports.Timezone = "UTC"
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 14
	}

	setNotificationDefaults(&cfg.Notifications)
}

var statusClassPattern = regexp.MustCompile(`^([1-5]xx|[1-5][0-9]{2}|[1-5][0-9]{2}-[1-5][0-9]{2})$`)

func validate(cfg *Config) error {
	if cfg.Database.Type != "boltdb" {
		return fmt.Errorf("only boltdb is supported currently")
	}
	if cfg.Database.HistoryRetention < 0 {
		return fmt.Errorf("database.history_retention cannot be negative")
	}
	if _, err := cron.ParseStandard(cfg.Database.CleanupSchedule); err != nil {
		return fmt.Errorf("database.cleanup_schedule is invalid: %w", err)
	}

	if cfg.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be positive")
	}
	if cfg.Monitoring.Timeout <= 0 {
		return fmt.Errorf("monitoring.timeout must be positive")
	}
	if cfg.Monitoring.Timeout >= cfg.Monitoring.Interval {
		return fmt.Errorf("monitoring.timeout must be shorter than monitoring.interval")
	}
	if cfg.Monitoring.Workers < 1 {
		return fmt.Errorf("monitoring.workers must be at least 1")
	}
	for _, class := range cfg.Monitoring.HealthyStatus {
		if !statusClassPattern.MatchString(strings.ToLower(strings.TrimSpace(class))) {
			return fmt.Errorf("monitoring.healthy_status contains invalid entry: %q", class)
		}
	}

	if _, err := cron.ParseStandard(cfg.Certificates.Schedule); err != nil {
		return fmt.Errorf("certificates.schedule is invalid: %w", err)
	}
	if cfg.Certificates.WarningDays < 0 {
		return fmt.Errorf("certificates.warning_days cannot be negative")
	}
	if cfg.Certificates.Concurrency < 1 {
		return fmt.Errorf("certificates.concurrency must be at least 1")
	}
	if cfg.Certificates.ACME.Enabled {
		if !isValidURL(cfg.Certificates.ACME.DirectoryURL) {
			return fmt.Errorf("certificates.acme.directory_url must be a valid URL")
		}
	}

	if _, err := time.LoadLocation(cfg.Reports.Timezone); err != nil {
		return fmt.Errorf("reports.timezone is invalid: %w", err)
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if cfg.Include.Pattern != "" && !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	if err := cfg.Notifications.Validate(); err != nil {
		return err
	}

	hostingIDs := make(map[string]bool)
	for _, rec := range cfg.Hosting {
		if rec.ID == "" {
			return fmt.Errorf("hosting record for %q has no id", rec.Domain)
		}
		if hostingIDs[rec.ID] {
			return fmt.Errorf("duplicate hosting ID: %s", rec.ID)
		}
		hostingIDs[rec.ID] = true

		if rec.Domain == "" {
			return fmt.Errorf("hosting record %s has no domain", rec.ID)
		}
		if rec.URL != "" && !isValidURL(rec.URL) {
			return fmt.Errorf("hosting record %s has invalid url: %s", rec.ID, rec.URL)
		}
	}

	return nil
}

func isValidURL(str string) bool {
	return strings.HasPrefix(str, "http://") && len(str) > 7 ||
		strings.HasPrefix(str, "https://") && len(str) > 8
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}

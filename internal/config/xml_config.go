// Package config provides XML-based configuration management for the map
// backend, plus YAML overrides for map styling.
package config

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"WarehouseMap"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Live telemetry feed
	Telemetry TelemetryConfig `xml:"Telemetry"`

	// Map styling and layer defaults
	Map MapStyle `xml:"Map"`

	// Robot marker animation
	Animation AnimationConfig `xml:"Animation"`

	// Viewer sessions
	Sessions SessionsConfig `xml:"Sessions"`

	// NATS fan-out
	Messaging MessagingConfig `xml:"Messaging"`

	// Robot trail recording
	Track TrackConfig `xml:"Track"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	TopologyDirectory string `xml:"TopologyDirectory"`
	StyleFile         string `xml:"StyleFile"`
	MaxUploadSize     string `xml:"MaxUploadSize"`
}

// TelemetryConfig contains the fleet feed connection settings
type TelemetryConfig struct {
	URL                 string  `xml:"URL"`
	ReconnectIntervalMs int     `xml:"ReconnectIntervalMs"`
	MaxAttempts         int     `xml:"MaxAttempts"`
	BackoffMultiplier   float64 `xml:"BackoffMultiplier"`
	MaxBackoffMs        int     `xml:"MaxBackoffMs"`
	HandshakeTimeout    int     `xml:"HandshakeTimeoutSeconds"`

	// Hosts a client may name in a session's telemetryUrl. An entry without a
	// port matches any port. The host of URL is always allowed.
	AllowedHosts []string `xml:"AllowedHosts>Host"`
}

// DialableHosts returns AllowedHosts plus the host of the configured feed.
func (t TelemetryConfig) DialableHosts() []string {
	hosts := append([]string(nil), t.AllowedHosts...)
	if u, err := url.Parse(t.URL); err == nil && u.Host != "" {
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// AnimationConfig contains robot marker timing
type AnimationConfig struct {
	MinDurationMs     int     `xml:"MinDurationMs"`
	MaxDurationMs     int     `xml:"MaxDurationMs"`
	MsPerUnit         float64 `xml:"MsPerUnit"`
	RotationThreshold float64 `xml:"RotationThresholdRadians"`
}

// SessionsConfig contains viewer session limits
type SessionsConfig struct {
	TimeoutMinutes         int `xml:"TimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
	MaxSessions            int `xml:"MaxSessions"`
}

// MessagingConfig contains NATS publishing settings; an empty URL disables it
type MessagingConfig struct {
	NATSURL       string `xml:"NATSURL"`
	SubjectPrefix string `xml:"SubjectPrefix"`
	ClientName    string `xml:"ClientName"`
}

// TrackConfig contains robot trail recording settings
type TrackConfig struct {
	Enabled         bool   `xml:"Enabled"`
	Directory       string `xml:"Directory"`
	BatchSize       int    `xml:"BatchSize"`
	FlushIntervalMs int    `xml:"FlushIntervalMs"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	LogFormat               string `xml:"LogFormat"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "32M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			TopologyDirectory: "./data/topology",
			MaxUploadSize:     "32M",
		},
		Telemetry: TelemetryConfig{
			ReconnectIntervalMs: 3000,
			MaxAttempts:         10,
			BackoffMultiplier:   1,
			MaxBackoffMs:        30000,
			HandshakeTimeout:    10,
		},
		Map: DefaultMapStyle(),
		Animation: AnimationConfig{
			MinDurationMs:     300,
			MaxDurationMs:     1000,
			MsPerUnit:         10,
			RotationThreshold: 0.1,
		},
		Sessions: SessionsConfig{
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            50,
		},
		Messaging: MessagingConfig{
			SubjectPrefix: "warehouse.map",
			ClientName:    "warehouse-map",
		},
		Track: TrackConfig{
			Enabled:         false,
			Directory:       "./data/track",
			BatchSize:       256,
			FlushIntervalMs: 1000,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "console",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 1024,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so sections missing from the file keep sane values
	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if config.Storage.StyleFile != "" {
		if err := config.Map.MergeFile(config.Storage.StyleFile); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Warehouse Map Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.TopologyDirectory = filepath.Join(dataDir, "topology")
		c.Track.Directory = filepath.Join(dataDir, "track")
	}

	if url := os.Getenv("TELEMETRY_URL"); url != "" {
		c.Telemetry.URL = url
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		c.Messaging.NATSURL = url
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.TopologyDirectory,
		&c.Storage.StyleFile,
		&c.Track.Directory,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.TopologyDirectory,
	}
	if c.Track.Enabled {
		dirs = append(dirs, c.Track.Directory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ReconnectInterval returns the baseline reconnect delay.
func (t TelemetryConfig) ReconnectInterval() time.Duration {
	return time.Duration(t.ReconnectIntervalMs) * time.Millisecond
}

// MaxBackoff returns the reconnect delay cap.
func (t TelemetryConfig) MaxBackoff() time.Duration {
	return time.Duration(t.MaxBackoffMs) * time.Millisecond
}

// SessionTimeout returns the idle timeout for viewer sessions.
func (s SessionsConfig) SessionTimeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions are swept.
func (s SessionsConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMinutes) * time.Minute
}

// FlushInterval returns how often buffered trail samples are written.
func (t TrackConfig) FlushInterval() time.Duration {
	return time.Duration(t.FlushIntervalMs) * time.Millisecond
}

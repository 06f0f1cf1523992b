package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// Defaults for the optional configuration keys.
const (
	DefaultReadingsInterval = 1000 // milliseconds
	DefaultDataDir          = "gateway-data"
	DefaultMaxFileSize      = 100 * 1024 * 1024
	DefaultMaxPacketSize    = 1024 * 1024
)

// Reading generator modes for the demo loop.
const (
	GeneratorRandom      = "random"
	GeneratorIncremental = "incremental"
)

// Names of the files kept under the data directory.
const (
	databaseFilename = "gateway.db"
	downloadDirname  = "files"
	markerFilename   = "firmware.version"
)

// Config is the gateway startup configuration. JSON is the default encoding;
// files with a .yaml/.yml extension are parsed as YAML.
type Config struct {
	Key      string `json:"key" yaml:"key" validate:"required"`
	Password string `json:"password" yaml:"password" validate:"required"`

	PlatformMQTTURI    string `json:"platformMqttUri" yaml:"platformMqttUri" validate:"required"`
	LocalMQTTURI       string `json:"localMqttUri" yaml:"localMqttUri" validate:"required"`
	PlatformTrustStore string `json:"platformTrustStore,omitempty" yaml:"platformTrustStore,omitempty"`

	// KeepAlive defaults to true; only an explicit false disables pinging.
	KeepAlive        *bool  `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	ReadingsInterval uint   `json:"readingsInterval,omitempty" yaml:"readingsInterval,omitempty"`
	Generator        string `json:"generator,omitempty" yaml:"generator,omitempty" validate:"oneof=random incremental"`

	SubdeviceManagement model.SubdeviceManagement `json:"subdeviceManagement" yaml:"subdeviceManagement" validate:"required,oneof=PLATFORM GATEWAY"`

	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	// MaxFileSize zero disables the file transfer subsystem; absent picks
	// the default.
	MaxFileSize   *int64 `json:"maxFileSize,omitempty" yaml:"maxFileSize,omitempty"`
	MaxPacketSize int64  `json:"maxPacketSize,omitempty" yaml:"maxPacketSize,omitempty"`

	Manifest *model.DeviceTemplate `json:"manifest" yaml:"manifest" validate:"required"`
}

var yamlExts = []string{".yaml", ".yml"}

// LoadConfig reads, defaults and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	unmarshal := json.Unmarshal
	ext := strings.ToLower(filepath.Ext(path))
	for _, yamlExt := range yamlExts {
		if ext == yamlExt {
			unmarshal = yaml.Unmarshal
			break
		}
	}

	cfg := &Config{}
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.SubdeviceManagement = model.SubdeviceManagement(strings.ToUpper(string(c.SubdeviceManagement)))
	if c.ReadingsInterval == 0 {
		c.ReadingsInterval = DefaultReadingsInterval
	}
	if c.Generator == "" {
		c.Generator = GeneratorRandom
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.MaxFileSize == nil {
		size := int64(DefaultMaxFileSize)
		c.MaxFileSize = &size
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	// The key rides inside channel paths.
	if err := protocol.CheckLevelName(c.Key); err != nil {
		return fmt.Errorf("key %q: %w", c.Key, err)
	}
	return nil
}

// KeepAliveEnabled reports whether the keep-alive service should run.
func (c *Config) KeepAliveEnabled() bool { return c.KeepAlive == nil || *c.KeepAlive }

// MaxFileSizeBytes returns the transfer size bound; zero means disabled.
func (c *Config) MaxFileSizeBytes() int64 { return *c.MaxFileSize }

// DatabasePath returns the location of the gateway database.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, databaseFilename) }

// DownloadDir returns the directory downloaded files are written to.
func (c *Config) DownloadDir() string { return filepath.Join(c.DataDir, downloadDirname) }

// VersionMarkerPath returns the location of the firmware version marker.
func (c *Config) VersionMarkerPath() string { return filepath.Join(c.DataDir, markerFilename) }

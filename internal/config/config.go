package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/session"
)

const DefaultPath = "config.json"

var (
	ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	ErrInvalidFormat = errors.New("the configuration file is not valid")
)

type DatabaseConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	Host               string `json:"host" yaml:"host"`
	Port               uint64 `json:"port" yaml:"port"`
	Username           string `json:"username" yaml:"username"`
	Password           string `json:"password" yaml:"password"`
	Database           string `json:"database" yaml:"database"`
	Collection         string `json:"collection" yaml:"collection"`
	UseTLS             bool   `json:"use_tls" yaml:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" yaml:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" yaml:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" yaml:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" yaml:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" yaml:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" yaml:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" yaml:"max_pool_size"`
}

// GalleryConfig bounds the in-memory image gallery.
type GalleryConfig struct {
	Capacity int    `json:"capacity" yaml:"capacity"`
	TTL      string `json:"ttl" yaml:"ttl"`
}

type PublisherConfig struct {
	ImagesDir   string `json:"images_dir" yaml:"images_dir"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	Interval    string `json:"interval" yaml:"interval"`
}

type Config struct {
	Broker    session.Config  `json:"broker" yaml:"broker"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Gallery   GalleryConfig   `json:"gallery" yaml:"gallery"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
	DebugMode bool            `json:"debug_mode" yaml:"debug_mode"`
	AppName   string          `json:"app_name" yaml:"app_name"`
	LogDir    string          `json:"log_dir" yaml:"log_dir"`
}

func Default() Config {
	return Config{
		Broker: session.Config{
			URL:                  "tcp://localhost:1883",
			VPNName:              "default",
			UserName:             "default",
			Password:             "default",
			TopicName:            "solace/images/>",
			ConnectTimeoutMs:     5000,
			ConnectRetries:       1,
			ReconnectRetries:     1,
			ReconnectRetryWaitMs: 1000,
		},
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               27017,
			Database:           "image_viewer",
			Collection:         "images",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        10,
		},
		Gallery: GalleryConfig{
			Capacity: 200,
			TTL:      "1h",
		},
		Publisher: PublisherConfig{
			ImagesDir:   "images",
			TopicPrefix: "solace/images",
			Interval:    "500ms",
		},
		AppName: "image-viewer",
		LogDir:  "logs",
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshal(path string, cfg Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "\t")
}

// ReadConfig loads path, JSON or YAML by extension. Missing keys keep their
// defaults. A missing file is created with the defaults and ErrConfigCreated
// is returned with them.
func ReadConfig(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, ErrConfigCreated
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	return cfg, nil
}

func writeDefaults(path string, cfg Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides broker credentials and topic from IMAGE_VIEWER_*
// variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for name, field := range map[string]*string{
		"IMAGE_VIEWER_HOST":     &cfg.Broker.URL,
		"IMAGE_VIEWER_VPN":      &cfg.Broker.VPNName,
		"IMAGE_VIEWER_USERNAME": &cfg.Broker.UserName,
		"IMAGE_VIEWER_PASSWORD": &cfg.Broker.Password,
		"IMAGE_VIEWER_TOPIC":    &cfg.Broker.TopicName,
	} {
		if value, ok := lookup(name); ok && value != "" {
			*field = value
		}
	}
}

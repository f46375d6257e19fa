package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for xclogger-server.
type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Store     StoreConfig
	Log       LogConfig
	Events    EventsConfig
	Retention RetentionConfig
	Export    ExportConfig
	Shutdown  ShutdownConfig
}

// ServerConfig configures the HTTP query API.
type ServerConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  string
}

// TransportConfig configures the ZeroMQ endpoint producers send to.
type TransportConfig struct {
	Endpoint       string
	AutoStart      bool
	MaxPayloadSize int64
}

type StoreConfig struct {
	DataDir string
	Path    string // overrides DataDir when set
}

// DatabasePath returns the SQLite file location.
func (c StoreConfig) DatabasePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(c.DataDir, "xclogger", "xclogger.db")
}

type LogConfig struct {
	Level  string
	Format string
}

type EventsConfig struct {
	Kafka KafkaConfig
	MQTT  MQTTConfig
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            int
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

type RetentionConfig struct {
	Enabled  bool
	Schedule string // cron expression, default "0 3 * * *"
	MaxAge   time.Duration
}

type ExportConfig struct {
	Backend   string // local, s3 or azure
	LocalPath string
	Prefix    string
	PageSize  int
	S3        S3Config
	Azure     AzureConfig
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

type AzureConfig struct {
	ConnectionString   string
	AccountName        string
	AccountKey         string
	Container          string
	Endpoint           string
	UseManagedIdentity bool
}

type ShutdownConfig struct {
	Timeout time.Duration
}

// Load reads configuration from defaults, an optional xclogger.toml, a .env
// file in the working directory and XCLOGGER_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// ".", "/etc/xclogger" and "$HOME/.xclogger" for xclogger.toml.
func LoadFile(path string) (*Config, error) {
	// Variables already present in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("XCLOGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("xclogger")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/xclogger/")
		v.AddConfigPath("$HOME/.xclogger/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	maxPayload, err := ParseSize(v.GetString("transport.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid transport.max_payload_size: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Enabled:      v.GetBool("server.enabled"),
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			CORSOrigins:  v.GetString("server.cors_origins"),
		},
		Transport: TransportConfig{
			Endpoint:       v.GetString("transport.endpoint"),
			AutoStart:      v.GetBool("transport.auto_start"),
			MaxPayloadSize: maxPayload,
		},
		Store: StoreConfig{
			DataDir: v.GetString("store.data_dir"),
			Path:    v.GetString("store.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Enabled:      v.GetBool("events.kafka.enabled"),
				Brokers:      splitList(v.GetStringSlice("events.kafka.brokers")),
				Topic:        v.GetString("events.kafka.topic"),
				WriteTimeout: v.GetDuration("events.kafka.write_timeout"),
			},
			MQTT: MQTTConfig{
				Enabled:        v.GetBool("events.mqtt.enabled"),
				Broker:         v.GetString("events.mqtt.broker"),
				ClientID:       v.GetString("events.mqtt.client_id"),
				TopicPrefix:    v.GetString("events.mqtt.topic_prefix"),
				QoS:            v.GetInt("events.mqtt.qos"),
				Username:       v.GetString("events.mqtt.username"),
				Password:       v.GetString("events.mqtt.password"),
				ConnectTimeout: v.GetDuration("events.mqtt.connect_timeout"),
			},
		},
		Retention: RetentionConfig{
			Enabled:  v.GetBool("retention.enabled"),
			Schedule: v.GetString("retention.schedule"),
			MaxAge:   v.GetDuration("retention.max_age"),
		},
		Export: ExportConfig{
			Backend:   strings.ToLower(v.GetString("export.backend")),
			LocalPath: v.GetString("export.local_path"),
			Prefix:    v.GetString("export.prefix"),
			PageSize:  v.GetInt("export.page_size"),
			S3: S3Config{
				Bucket:    v.GetString("export.s3.bucket"),
				Region:    v.GetString("export.s3.region"),
				Endpoint:  v.GetString("export.s3.endpoint"),
				AccessKey: v.GetString("export.s3.access_key"),
				SecretKey: v.GetString("export.s3.secret_key"),
				UseSSL:    v.GetBool("export.s3.use_ssl"),
				PathStyle: v.GetBool("export.s3.path_style"),
			},
			Azure: AzureConfig{
				ConnectionString:   v.GetString("export.azure.connection_string"),
				AccountName:        v.GetString("export.azure.account_name"),
				AccountKey:         v.GetString("export.azure.account_key"),
				Container:          v.GetString("export.azure.container"),
				Endpoint:           v.GetString("export.azure.endpoint"),
				UseManagedIdentity: v.GetBool("export.azure.use_managed_identity"),
			},
		},
		Shutdown: ShutdownConfig{
			Timeout: v.GetDuration("shutdown.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5580)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors_origins", "*")

	v.SetDefault("transport.endpoint", "tcp://127.0.0.1:5555")
	v.SetDefault("transport.auto_start", true)
	v.SetDefault("transport.max_payload_size", "16MB")

	v.SetDefault("store.data_dir", defaultDataDir())
	v.SetDefault("store.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "xclogger.messages")
	v.SetDefault("events.kafka.write_timeout", "10s")

	v.SetDefault("events.mqtt.enabled", false)
	v.SetDefault("events.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("events.mqtt.client_id", "xclogger-server")
	v.SetDefault("events.mqtt.topic_prefix", "xclogger/messages")
	v.SetDefault("events.mqtt.qos", 0)
	v.SetDefault("events.mqtt.connect_timeout", "10s")

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.max_age", "720h")

	v.SetDefault("export.backend", "local")
	v.SetDefault("export.local_path", "./exports")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.page_size", 1000)
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.use_ssl", true)

	v.SetDefault("shutdown.timeout", "30s")
}

// defaultDataDir follows the XDG data directory convention.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "./data"
}

// splitList flattens comma separated entries, which is how list values
// arrive from environment variables.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Transport.Endpoint == "" {
		return fmt.Errorf("transport.endpoint must not be empty")
	}
	if !strings.Contains(c.Transport.Endpoint, "://") {
		return fmt.Errorf("transport.endpoint %q must look like tcp://host:port", c.Transport.Endpoint)
	}
	if c.Transport.MaxPayloadSize <= 0 {
		return fmt.Errorf("transport.max_payload_size must be positive")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Store.Path == "" && c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir or store.path must be set")
	}
	if c.Events.Kafka.Enabled && (len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "") {
		return fmt.Errorf("events.kafka requires brokers and topic")
	}
	if c.Events.MQTT.Enabled && c.Events.MQTT.Broker == "" {
		return fmt.Errorf("events.mqtt.broker must not be empty")
	}
	if c.Events.MQTT.QoS < 0 || c.Events.MQTT.QoS > 2 {
		return fmt.Errorf("events.mqtt.qos must be 0, 1 or 2")
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive")
	}
	switch c.Export.Backend {
	case "local":
		if c.Export.LocalPath == "" {
			return fmt.Errorf("export.local_path must not be empty")
		}
	case "s3":
		if c.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket must not be empty")
		}
	case "azure":
		if c.Export.Azure.Container == "" {
			return fmt.Errorf("export.azure.container must not be empty")
		}
	default:
		return fmt.Errorf("unknown export.backend %q", c.Export.Backend)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g. "16MB", "512KB") to
// bytes. Supports B, KB, MB and GB, case-insensitively.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, unit := range units {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))
		var num float64
		var trailing string
		n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
		if n == 0 || trailing != "" {
			return 0, fmt.Errorf("invalid size format: %s (use e.g. '16MB', '512KB')", sizeStr)
		}
		if num < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g. '16MB', '512KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}

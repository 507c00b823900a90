package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	OutputFormatConsole = "console"
	OutputFormatJSON    = "json"
	OutputFormatCSV     = "csv"
	OutputFormatParquet = "parquet"

	OutputDestinationLocal = "local"
	OutputDestinationS3    = "s3"
)

// GeneratorConfig holds the probability constants that differ between simulator variants.
type GeneratorConfig struct {
	CongestionProbability   float64 `mapstructure:"congestion_probability"`
	SpeedAnomalyProbability float64 `mapstructure:"speed_anomaly_probability"`
	LowSpeedShare           float64 `mapstructure:"low_speed_share"`
	IncidentProbability     float64 `mapstructure:"incident_probability"`
	MaxNormalSpeed          float64 `mapstructure:"max_normal_speed"`
	ReducedWeather          bool    `mapstructure:"reduced_weather"`
}

type AlertThresholds struct {
	LowSpeedKMH           float64 `mapstructure:"low_speed_kmh"`
	HighSpeedKMH          float64 `mapstructure:"high_speed_kmh"`
	OverCapacityPct       float64 `mapstructure:"over_capacity_pct"`
	CriticalCongestionPct float64 `mapstructure:"critical_congestion_pct"`
}

type TopicsConfig struct {
	Events string `mapstructure:"events"`
	Alerts string `mapstructure:"alerts"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BrokerList       string `mapstructure:"broker_list"`
	ClientID         string `mapstructure:"client_id"`
	SessionTimeoutMs int    `mapstructure:"session_timeout_ms"`
}

type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CloudStorageConfig struct {
	Provider   string `mapstructure:"provider"`
	Region     string `mapstructure:"region"`
	BucketName string `mapstructure:"bucket_name"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Configured reports whether enough settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0 && c.Password != ""
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Seed          int64         `mapstructure:"seed"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MaxTicks      int           `mapstructure:"max_ticks"`
	Timezone      string        `mapstructure:"timezone"`
	MaxEventsKeep int           `mapstructure:"max_events_keep"`
	MaxAlertsKeep int           `mapstructure:"max_alerts_keep"`

	// backfill
	StartDate time.Time     `mapstructure:"start_date"`
	EndDate   time.Time     `mapstructure:"end_date"`
	Step      time.Duration `mapstructure:"step"`

	// roster
	Locations      []Location `mapstructure:"locations"`
	LocationsFile  string     `mapstructure:"locations_file"`
	ExtraLocations int        `mapstructure:"extra_locations"`
	CityLat        float64    `mapstructure:"city_latitude"`
	CityLon        float64    `mapstructure:"city_longitude"`
	UrbanRadius    float64    `mapstructure:"urban_radius"`
	MinCapacity    int        `mapstructure:"min_capacity"`
	MaxCapacity    int        `mapstructure:"max_capacity"`

	Generator GeneratorConfig `mapstructure:"generator"`
	Alerts    AlertThresholds `mapstructure:"alerts"`
	Topics    TopicsConfig    `mapstructure:"topics"`

	OutputFormat      string             `mapstructure:"output_format"`
	OutputPath        string             `mapstructure:"output_path"`
	OutputFolder      string             `mapstructure:"output_folder"`
	OutputDestination string             `mapstructure:"output_destination"`
	CloudStorage      CloudStorageConfig `mapstructure:"cloud_storage"`

	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Database DatabaseConfig `mapstructure:"database"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SetDefaults registers every default on v. Flags and config files override them.
func SetDefaults(v *viper.Viper) {
	now := time.Now()

	v.SetDefault("seed", 0)
	v.SetDefault("tick_interval", "5s")
	v.SetDefault("max_ticks", 0)
	v.SetDefault("timezone", "Local")
	v.SetDefault("max_events_keep", 5000)
	v.SetDefault("max_alerts_keep", 1000)

	v.SetDefault("start_date", now.Add(-24*time.Hour).Format(time.RFC3339))
	v.SetDefault("end_date", now.Format(time.RFC3339))
	v.SetDefault("step", "5s")

	v.SetDefault("locations_file", "")
	v.SetDefault("extra_locations", 0)
	v.SetDefault("city_latitude", 30.0444)
	v.SetDefault("city_longitude", 31.2357)
	v.SetDefault("urban_radius", 12.0)
	v.SetDefault("min_capacity", 50)
	v.SetDefault("max_capacity", 150)

	v.SetDefault("generator.congestion_probability", 0.05)
	v.SetDefault("generator.speed_anomaly_probability", 0.05)
	v.SetDefault("generator.low_speed_share", 0.5)
	v.SetDefault("generator.incident_probability", 0.10)
	v.SetDefault("generator.max_normal_speed", 110.0)
	v.SetDefault("generator.reduced_weather", false)

	v.SetDefault("alerts.low_speed_kmh", 10.0)
	v.SetDefault("alerts.high_speed_kmh", 100.0)
	v.SetDefault("alerts.over_capacity_pct", 120.0)
	v.SetDefault("alerts.critical_congestion_pct", 90.0)

	v.SetDefault("topics.events", TopicTrafficEvents)
	v.SetDefault("topics.alerts", TopicTrafficAlerts)

	v.SetDefault("output_format", OutputFormatConsole)
	v.SetDefault("output_path", "")
	v.SetDefault("output_folder", "traffic")
	v.SetDefault("output_destination", OutputDestinationLocal)
	v.SetDefault("cloud_storage.provider", "s3")
	v.SetDefault("cloud_storage.region", "us-east-1")
	v.SetDefault("cloud_storage.bucket_name", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.broker_list", "localhost:9092")
	v.SetDefault("kafka.client_id", "trafficdatasim")
	v.SetDefault("kafka.session_timeout_ms", 45000)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "trafficdatasim")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "cairo")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "5s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.to", []string{})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads configuration from cfgFile (or the default search path), the
// environment and any flags already bound on v.
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".trafficdatasim")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TRAFFICSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	return &config, nil
}

// Validate reports every configuration problem at once.
func (cfg *Config) Validate() error {
	var problems []string

	if cfg.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if cfg.MaxTicks < 0 {
		problems = append(problems, "max_ticks must not be negative")
	}
	if cfg.MaxEventsKeep <= 0 {
		problems = append(problems, "max_events_keep must be positive")
	}
	if cfg.MaxAlertsKeep <= 0 {
		problems = append(problems, "max_alerts_keep must be positive")
	}
	if _, err := cfg.TimeLocation(); err != nil {
		problems = append(problems, fmt.Sprintf("unknown timezone %q", cfg.Timezone))
	}

	probabilities := []struct {
		key   string
		value float64
	}{
		{"generator.congestion_probability", cfg.Generator.CongestionProbability},
		{"generator.speed_anomaly_probability", cfg.Generator.SpeedAnomalyProbability},
		{"generator.low_speed_share", cfg.Generator.LowSpeedShare},
		{"generator.incident_probability", cfg.Generator.IncidentProbability},
	}
	for _, p := range probabilities {
		if p.value < 0 || p.value > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0, 1]", p.key))
		}
	}
	if cfg.Generator.MaxNormalSpeed < 5 {
		problems = append(problems, "generator.max_normal_speed must be at least 5")
	}

	if cfg.ExtraLocations < 0 {
		problems = append(problems, "extra_locations must not be negative")
	}
	if cfg.ExtraLocations > 0 && (cfg.MinCapacity <= 0 || cfg.MaxCapacity < cfg.MinCapacity) {
		problems = append(problems, "min_capacity and max_capacity must satisfy 0 < min <= max")
	}

	if cfg.Topics.Events == "" || cfg.Topics.Alerts == "" {
		problems = append(problems, "topics.events and topics.alerts are required")
	}

	switch cfg.OutputFormat {
	case OutputFormatConsole, OutputFormatJSON, OutputFormatCSV, OutputFormatParquet:
	default:
		problems = append(problems, fmt.Sprintf("unsupported output_format %q", cfg.OutputFormat))
	}
	switch cfg.OutputDestination {
	case OutputDestinationLocal:
	case OutputDestinationS3:
		if cfg.OutputFormat != OutputFormatParquet {
			problems = append(problems, "output_destination s3 requires output_format parquet")
		}
		if cfg.CloudStorage.BucketName == "" {
			problems = append(problems, "cloud_storage.bucket_name is required for s3 output")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported output_destination %q", cfg.OutputDestination))
	}

	if cfg.Kafka.Enabled && strings.TrimSpace(cfg.Kafka.BrokerList) == "" {
		problems = append(problems, "kafka.broker_list is required when kafka is enabled")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, ", "))
	}
	return nil
}

// TimeLocation resolves the configured timezone used for rush-hour boundaries.
func (cfg *Config) TimeLocation() (*time.Location, error) {
	if cfg.Timezone == "" || cfg.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(cfg.Timezone)
}

// RosterLocations returns the locations from locations_file when set, else the
// locations list from config, else the default Cairo table.
func (cfg *Config) RosterLocations() ([]Location, error) {
	switch {
	case cfg.LocationsFile != "":
		locations, err := LoadLocationsCSV(cfg.LocationsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load locations from %s: %w", cfg.LocationsFile, err)
		}
		return locations, nil
	case len(cfg.Locations) > 0:
		return cfg.Locations, nil
	default:
		return CairoLocations(), nil
	}
}

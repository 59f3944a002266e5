package domain

// Config holds the complete fraudscore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Model artifact location
	Model ModelConfig `json:"model"`

	// Historical transaction dataset used by the analytics endpoints
	Dataset DatasetConfig `json:"dataset"`

	// Prediction event publishing
	EventBus EventBusConfig `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ModelConfig selects the artifact store and the artifact identifier.
type ModelConfig struct {
	// Store is the artifact store: "file" or "redis"
	Store string `json:"store"`

	// ID identifies the artifact inside the store
	ID string `json:"id"`

	// File store settings. Path wins over Dir + ID when set.
	Path string `json:"path"`
	Dir  string `json:"dir"`

	// Redis store settings
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	File   string `json:"file"`   // optional, appended to in addition to stdout
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC endpoint, host:port
}

// DefaultConfig returns the default configuration: a JSON artifact on disk,
// the cleaned CSV dataset and an in-process channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Model: ModelConfig{
			Store: "file",
			ID:    "fraud-model",
			Dir:   "./model",
		},
		Dataset: DatasetConfig{
			Driver:  "csv",
			CSVPath: "./Data/fraud_data_cleaned_before_encode.csv",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudscore",
		},
	}
}

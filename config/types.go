package config

// ServerConfig contains the HTTP server configuration
type ServerConfig struct {
	Port        int    `yaml:"port" validate:"gt=0"`
	CORSOrigins string `yaml:"corsOrigins"`
}

// EttuConfig contains the upstream ETTU API configuration
type EttuConfig struct {
	BaseURL   string `yaml:"baseURL" validate:"url"`
	APIKey    string `yaml:"apiKey" validate:"required"`
	TimeoutMS int    `yaml:"timeoutMS" validate:"gt=0"`
}

// OSRMConfig contains the external routing service configuration
type OSRMConfig struct {
	BaseURL   string `yaml:"baseURL" validate:"url"`
	TimeoutMS int    `yaml:"timeoutMS" validate:"gt=0"`
}

// PipelineConfig contains tick cadence and matching parameters
type PipelineConfig struct {
	PollIntervalSeconds int     `yaml:"pollIntervalSeconds" validate:"gt=0"`
	RouteRefreshHours   int     `yaml:"routeRefreshHours" validate:"gt=0"`
	MaxSnapDistanceM    float64 `yaml:"maxSnapDistanceM" validate:"gt=0"`
	VehicleTTLSeconds   int     `yaml:"vehicleTTLSeconds" validate:"gt=0"`
	SignalLostSeconds   int     `yaml:"signalLostSeconds" validate:"gt=0"`
}

// BroadcastConfig contains subscriber fan-out parameters
type BroadcastConfig struct {
	MaxBufferedFrames int `yaml:"maxBufferedFrames" validate:"gt=0"`
	SnapshotMaxAgeMS  int `yaml:"snapshotMaxAgeMS" validate:"gt=0"`
}

// AppConfig is the root configuration structure. An optional config.yml
// provides the base; environment variables always override it.
type AppConfig struct {
	Server      ServerConfig    `yaml:"server"`
	Ettu        EttuConfig      `yaml:"ettu"`
	OSRM        OSRMConfig      `yaml:"osrm"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Broadcast   BroadcastConfig `yaml:"broadcast"`
	DatabaseURL string          `yaml:"databaseURL"`
	RedisURL    string          `yaml:"redisURL"`
}

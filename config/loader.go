package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration in three layers: defaults, an optional
// config.yml, then environment variables (a .env file is folded into the
// environment first). The result is validated before it is returned.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := defaults()

	paths := []string{"config.yml", "./deploy/config.yml"}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		break
	}

	applyEnv(&cfg)

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: "*",
		},
		Ettu: EttuConfig{
			BaseURL:   "https://map.ettu.ru",
			APIKey:    "111",
			TimeoutMS: 30_000,
		},
		OSRM: OSRMConfig{
			BaseURL:   "https://router.project-osrm.org",
			TimeoutMS: 10_000,
		},
		Pipeline: PipelineConfig{
			PollIntervalSeconds: 10,
			RouteRefreshHours:   6,
			MaxSnapDistanceM:    300,
			VehicleTTLSeconds:   120,
			SignalLostSeconds:   60,
		},
		Broadcast: BroadcastConfig{
			MaxBufferedFrames: 8,
			SnapshotMaxAgeMS:  20_000,
		},
	}
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.Ettu.BaseURL, "ETTU_BASE_URL")
	setString(&cfg.Ettu.APIKey, "ETTU_API_KEY")
	setString(&cfg.OSRM.BaseURL, "OSRM_BASE_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.Server.CORSOrigins, "CORS_ORIGINS")
	setInt(&cfg.Server.Port, "HTTP_PORT")
	setInt(&cfg.Pipeline.PollIntervalSeconds, "POLL_INTERVAL_SECONDS")
	setInt(&cfg.Pipeline.RouteRefreshHours, "ROUTE_REFRESH_HOURS")
	setFloat(&cfg.Pipeline.MaxSnapDistanceM, "MAX_SNAP_DISTANCE_M")
	setInt(&cfg.Pipeline.VehicleTTLSeconds, "VEHICLE_TTL_SECONDS")
	setInt(&cfg.Pipeline.SignalLostSeconds, "SIGNAL_LOST_SECONDS")
	setInt(&cfg.Broadcast.MaxBufferedFrames, "MAX_BUFFERED_FRAMES")
	setInt(&cfg.Broadcast.SnapshotMaxAgeMS, "SNAPSHOT_MAX_AGE_MS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

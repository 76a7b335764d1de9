package boot

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type ServerConfig struct {
	Port        int      `env:"PORT,default=8080"`
	MetricsPort int      `env:"METRICS_PORT,default=8081"`
	Origins     []string `env:"ORIGINS,default=http://localhost:3000"`
}

type RefreshConfig struct {
	PositionInterval string `env:"POSITION_INTERVAL,default=10s"`
	FullInterval     string `env:"FULL_INTERVAL,default=2m"`
}

type Config struct {
	Env           string  `env:"ENV,default=dev"`
	DataDirectory string  `env:"DATA_DIR"`
	GatewayURL    string  `env:"GATEWAY_URL"`
	SelfID        int64   `env:"SELF_ID"`
	SelfName      string  `env:"SELF_NAME"`
	AuthToken     string  `env:"AUTH_TOKEN"`
	NearRadiusKm  float64 `env:"NEAR_RADIUS_KM,default=10"`

	Server  ServerConfig  `env:",prefix=SERVER_"`
	Refresh RefreshConfig `env:",prefix=REFRESH_"`
}

func Load() (Config, error) {
	config := Config{}
	if err := envconfig.Process(context.Background(), &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c Config) IsProduction() bool {
	return c.Env == "prod"
}

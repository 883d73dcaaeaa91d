package main

import (
	"brickarena/internal/brickgame"
	"brickarena/internal/config"
)

// Config is the server configuration. Environment first, flags override.
type Config struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	ClientDir    string `env:"CLIENT_DIR"`
	DBPath       string `env:"DB_PATH" envDefault:"brickarena.db"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"brickarena"`

	Game brickgame.Settings `envPrefix:"BRICK_"`
}

// LoadConfig reads Config from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package config

import "time"

type Config struct {
	StartDelay time.Duration `env:"SYNC_START_DELAY" env-default:"30s"`
	Interval   time.Duration `env:"SYNC_INTERVAL" env-default:"6h"`
	Cooldown   time.Duration `env:"SYNC_COOLDOWN" env-default:"60s"`
}

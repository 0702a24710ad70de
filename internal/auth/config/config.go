package config

import "time"

type Config struct {
	AdminUsername     string        `env:"ADMIN_USERNAME" env-default:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	SessionSecret     string        `env:"SESSION_SECRET"`
	SessionTTL        time.Duration `env:"SESSION_TTL" env-default:"168h"`
}

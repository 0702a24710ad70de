package config

import (
	"errors"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	authConfig "github.com/iurnickita/profitsync/internal/auth/config"
	handlerConfig "github.com/iurnickita/profitsync/internal/handler/config"
	loggerConfig "github.com/iurnickita/profitsync/internal/logger/config"
	schedulerConfig "github.com/iurnickita/profitsync/internal/scheduler/config"
	serviceConfig "github.com/iurnickita/profitsync/internal/service/config"
	storeConfig "github.com/iurnickita/profitsync/internal/store/config"
)

type Config struct {
	Handler   handlerConfig.Config
	Service   serviceConfig.Config
	Scheduler schedulerConfig.Config
	Store     storeConfig.Config
	Logger    loggerConfig.Config
	Auth      authConfig.Config
}

// GetConfig читает .env (если есть) и переменные окружения.
func GetConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

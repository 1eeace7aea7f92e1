package utils

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type HTTP struct {
	Addr string `default:":8080" envconfig:"ADDR"`
}

type Backend struct {
	BaseURL string        `default:"http://127.0.0.1:4567" envconfig:"BASE_URL"`
	Timeout time.Duration `default:"12s" envconfig:"TIMEOUT"`
}

type Feed struct {
	PreferredLang string `default:"en" envconfig:"PREFERRED_LANG"`
	IsProd        bool   `default:"false" envconfig:"PROD"`
}

type DB struct {
	// Empty means the per-user default; see database.Config.Resolve.
	Path string `default:"" envconfig:"PATH"`
}

type Config struct {
	HTTP    HTTP
	Backend Backend
	Feed    Feed
	DB      DB
}

// Load reads configuration from MANGAFEED_* environment variables.
func Load() (Config, error) {
	var c Config

	if err := envconfig.Process("MANGAFEED", &c); err != nil {
		return Config{}, err
	}

	return c, nil
}

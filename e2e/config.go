package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_COLOURS enables colorized step headers for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_LOG_LEVEL controls the verbosity of the clients under test
	LogLevel string `envconfig:"E2E_LOG_LEVEL" default:"warn"`
	// E2E_STEP_TIMEOUT bounds every wait inside a scenario step
	StepTimeout time.Duration `envconfig:"E2E_STEP_TIMEOUT" default:"10s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

package core

import (
	"strings"

	"github.com/spf13/viper"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
)

// LoadConfig reads the orchestrator configuration document from path.
// Environment variables prefixed ORCHESTRATOR_ override file values,
// with dots and dashes mapped to underscores (ORCHESTRATOR_CATALOG_PATH
// overrides catalog_path).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, orcherrors.Wrap(err, orcherrors.KindConfig, "reading orchestrator config "+path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, orcherrors.Wrap(err, orcherrors.KindConfig, "decoding orchestrator config")
	}
	return cfg, nil
}

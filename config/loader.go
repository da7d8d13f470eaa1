package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration from the file at path, or from supabridge.yaml in the
// working directory or /etc/supabridge when path is empty, and then from the environment.
// A missing default file is not an error.
//
// Besides the SUPABRIDGE_ variables, OUTSETA_DOMAIN and SUPA_JWT_SECRET are honoured for
// the issuer domain and the signing secret.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("supabridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/supabridge/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("issuer.domain", EnvPrefix+"_ISSUER_DOMAIN", "OUTSETA_DOMAIN"); err != nil {
		return nil, err
	}

	if err := v.BindEnv("signing.secret", EnvPrefix+"_SIGNING_SECRET", "SUPA_JWT_SECRET"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

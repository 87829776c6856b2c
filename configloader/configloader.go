// Package configloader loads a config struct from defaults, an optional YAML
// file, and environment variables, in that order of increasing precedence
// (viper lets an environment variable override the file value).
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load fills cfgPtr from defaults + ENV + optional YAML file.
// envPrefix is the ENV variable prefix, e.g. "KAFKA_PROBE"; keys are mapped
// with "." → "_". If cfgPtr implements Validate() error it is called last.
func Load(path, envPrefix string, defaults map[string]interface{}, cfgPtr interface{}) error {
	v := viper.New()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	if val, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}

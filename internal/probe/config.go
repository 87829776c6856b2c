package probe

import (
	"fmt"
	"time"

	"github.com/dbranscombe/kafka-net/configloader"
	"github.com/dbranscombe/kafka-net/httpserver"
	"github.com/dbranscombe/kafka-net/logger"
	"github.com/dbranscombe/kafka-net/transport"
)

// Config holds all probe settings.
type Config struct {
	ClientID string            `mapstructure:"client_id"`
	Broker   BrokerConfig      `mapstructure:"broker"`
	Interval time.Duration     `mapstructure:"interval"`
	TLS      TLSConfig         `mapstructure:"tls"`
	Logging  logger.Config     `mapstructure:"logging"`
	HTTP     httpserver.Config `mapstructure:"http"`

	Transport transport.Options `mapstructure:"transport"`
}

// BrokerConfig identifies the broker under probe.
type BrokerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TLSConfig is the file-level TLS configuration; it is turned into
// transport.TLSOptions (with opened stores) by the app.
type TLSConfig struct {
	Enabled                   bool   `mapstructure:"enabled"`
	ClientCertRef             string `mapstructure:"client_cert_ref"`
	FriendlyName              string `mapstructure:"friendly_name"`
	Password                  string `mapstructure:"password"`
	AllowSelfSignedServerCert bool   `mapstructure:"allow_self_signed_server_cert"`
	SelfSignedTrainMode       bool   `mapstructure:"self_signed_train_mode"`
	StoreDir                  string `mapstructure:"store_dir"`
	TrustedPeersDir           string `mapstructure:"trusted_peers_dir"`
}

// LoadConfig reads the probe config from path (optional) and ENV with the
// KAFKA_PROBE prefix.
func LoadConfig(path string) (*Config, error) {
	defaults := map[string]interface{}{
		"client_id":   "kafka-probe",
		"broker.host": "localhost",
		"broker.port": 9092,
		"interval":    "10s",

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.addr": ":8080",

		"transport.initial_backoff":       "100ms",
		"transport.backoff_multiplier":    2.0,
		"transport.max_reconnect_backoff": "5m",
		"transport.dial_timeout":          "10s",
	}

	var cfg Config
	if err := configloader.Load(path, "KAFKA_PROBE", defaults, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate is invoked by configloader.Load.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.TLS.Enabled {
		if c.TLS.SelfSignedTrainMode && !c.TLS.AllowSelfSignedServerCert {
			return fmt.Errorf("tls.self_signed_train_mode requires tls.allow_self_signed_server_cert")
		}
		if c.TLS.AllowSelfSignedServerCert && c.TLS.TrustedPeersDir == "" {
			return fmt.Errorf("tls.trusted_peers_dir is required when allowing self-signed server certs")
		}
	}
	return nil
}

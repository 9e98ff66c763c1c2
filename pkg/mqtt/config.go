// Package mqtt publishes generated pond readings to an MQTT broker, the way
// field sensors report them.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the MQTT connection settings.
type Config struct {
	Broker         string        `env:"MQTT_BROKER"          envDefault:"localhost:1883"`
	ClientID       string        `env:"MQTT_CLIENT_ID"       envDefault:"pondwatch-generator"`
	TopicPrefix    string        `env:"MQTT_TOPIC_PREFIX"    envDefault:"pondwatch"`
	Username       string        `env:"MQTT_USERNAME"`
	Password       string        `env:"MQTT_PASSWORD"`
	QoS            byte          `env:"MQTT_QOS"             envDefault:"1"`
	KeepAlive      time.Duration `env:"MQTT_KEEPALIVE"       envDefault:"30s"`
	ConnectTimeout time.Duration `env:"MQTT_CONNECT_TIMEOUT" envDefault:"10s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse mqtt config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("invalid mqtt config: broker is required")
	}
	if c.ClientID == "" {
		return errors.New("invalid mqtt config: client id is required")
	}
	if c.QoS > 1 {
		return fmt.Errorf("invalid mqtt config: unsupported QoS %d", c.QoS)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("invalid mqtt config: topic prefix %q contains a wildcard", c.TopicPrefix)
	}
	return nil
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic returns the readings topic of a pond: <prefix>/<pond>/readings.
// Topic separators and wildcards in the pond name are replaced.
func Topic(prefix, pond string) string {
	t := topicReplacer.Replace(pond) + "/readings"
	if prefix = strings.TrimSuffix(prefix, "/"); prefix != "" {
		t = prefix + "/" + t
	}
	return t
}

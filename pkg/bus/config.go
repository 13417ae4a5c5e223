package bus

import "github.com/aetherbus/aetherbus/pkg/config"

// Config holds the process-level options recognised by AetherBus.
// Broker connection fields live on the concrete adapter's own Config (e.g.
// redis.Config); this Config carries only the bus-level knobs.
type Config struct {
	// Namespace is the StreamKeyBuilder prefix.
	Namespace string `env:"NAMESPACE" env-default:"AG1"`

	// StreamMaxLen is the approximate entry cap per stream.
	StreamMaxLen int64 `env:"BUS_STREAM_MAXLEN" env-default:"10000"`

	// EnvelopeSizeLimit is the byte limit enforced at serialisation.
	EnvelopeSizeLimit int `env:"ENVELOPE_SIZE_LIMIT" env-default:"131072"`
}

// DefaultConfig returns the documented defaults without touching the
// environment.
func DefaultConfig() Config {
	return Config{
		Namespace:         "AG1",
		StreamMaxLen:      10000,
		EnvelopeSizeLimit: 131072,
	}
}

// LoadConfig reads the bus configuration from the environment (and a .env
// file if present) and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL      string
	MigrationsFolder string
	RedisCfg         *RedisConfig
	MqttCfg          *MqttConfig
	InfluxCfg        *InfluxConfig
	WebhookURL       string
	HTTPAddr         string
	LogLevel         string
	Tuning           *Tuning
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type MqttConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// InfluxConfig is optional; history recording is disabled when URL is empty.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Tuning carries the timing knobs operators rarely touch. They come straight
// from the environment rather than flags.
type Tuning struct {
	PollInterval          time.Duration `env:"CORRELATOR_POLL_INTERVAL" envDefault:"500ms"`
	SlaveFreshness        time.Duration `env:"SLAVE_RESPONSE_FRESHNESS" envDefault:"10s"`
	SlaveDeadline         time.Duration `env:"SLAVE_RESPONSE_DEADLINE" envDefault:"10s"`
	AliveFreshness        time.Duration `env:"ALIVE_REPLY_FRESHNESS" envDefault:"10s"`
	AliveDeadline         time.Duration `env:"ALIVE_REPLY_DEADLINE" envDefault:"5s"`
	UpdateFreshness       time.Duration `env:"UPDATE_CONFIRM_FRESHNESS" envDefault:"15s"`
	UpdateDeadline        time.Duration `env:"UPDATE_CONFIRM_DEADLINE" envDefault:"10s"`
	SweepInterval         time.Duration `env:"LIVENESS_SWEEP_INTERVAL" envDefault:"1m"`
	OfflineTimeout        time.Duration `env:"DEVICE_OFFLINE_TIMEOUT" envDefault:"5m"`
	ResponseTTL           time.Duration `env:"RESPONSE_RECORD_TTL" envDefault:"10m"`
	NotificationRetention time.Duration `env:"NOTIFICATION_RETENTION" envDefault:"720h"`
}

func TuningFromEnv() (*Tuning, error) {
	t := &Tuning{}
	if err := env.Parse(t); err != nil {
		return nil, err
	}
	return t, nil
}

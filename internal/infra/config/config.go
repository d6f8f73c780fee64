// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// EnvPrefix prefixes every environment override, e.g. FOCUSLAMP_SERVER_ADDR.
const EnvPrefix = "FOCUSLAMP_"

// Rating source types.
const (
	RatingFile  = "file"
	RatingRedis = "redis"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Lamp        LampConfig        `yaml:"lamp" envPrefix:"LAMP_"`
	Session     SessionConfig     `yaml:"session" envPrefix:"SESSION_"`
	Idle        IdleConfig        `yaml:"idle" envPrefix:"IDLE_"`
	Interrupter InterrupterConfig `yaml:"interrupter" envPrefix:"INTERRUPTER_"`
	Actions     ActionsConfig     `yaml:"actions" envPrefix:"ACTIONS_"`
	Rating      RatingConfig      `yaml:"rating" envPrefix:"RATING_"`
	History     HistoryConfig     `yaml:"history" envPrefix:"HISTORY_"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string      `yaml:"addr" env:"ADDR" default:":8080"`
	ControlToken string      `yaml:"control_token" env:"CONTROL_TOKEN"`
	WSPath       string      `yaml:"ws_path" env:"WS_PATH" default:"/ws" validate:"startswith=/"`
	Hooks        HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// LampConfig represents the lamp hardware configuration.
type LampConfig struct {
	ID            string  `yaml:"id" env:"ID" default:"lelamp" validate:"required"`
	LEDCount      int     `yaml:"led_count" env:"LED_COUNT" default:"64" validate:"gte=1,lte=1024"`
	FPS           int     `yaml:"fps" env:"FPS" default:"30" validate:"gte=1,lte=240"`
	RecordingsDir string  `yaml:"recordings_dir" env:"RECORDINGS_DIR" default:"recordings"`
	MaxLux        float64 `yaml:"max_lux" env:"MAX_LUX" default:"750" validate:"gt=0"`
}

// SessionConfig represents the default session parameters.
type SessionConfig struct {
	StartHour            int `yaml:"start_hour" env:"START_HOUR" validate:"gte=0,lte=23"`
	StartMinute          int `yaml:"start_minute" env:"START_MINUTE" validate:"gte=0,lte=59"`
	TotalDurationMinutes int `yaml:"total_duration_min" env:"TOTAL_DURATION_MIN" default:"60" validate:"gte=1"`
	FatigueLevel         int `yaml:"fatigue_level" env:"FATIGUE_LEVEL" default:"3" validate:"gte=1,lte=5"`
	FocusMode            int `yaml:"focus_mode" env:"FOCUS_MODE" validate:"oneof=-1 0 1"`
}

// IdleConfig represents the light shown between sessions.
type IdleConfig struct {
	ColorTemperatureK int     `yaml:"cct_k" env:"CCT_K" default:"4500" validate:"gte=1000,lte=6500"`
	IlluminanceLux    float64 `yaml:"lux" env:"LUX" default:"300" validate:"gte=0"`
	Scale             float64 `yaml:"scale" env:"SCALE" default:"0.5" validate:"gt=0,lte=1"`
}

// InterrupterConfig represents the rating sampler configuration.
type InterrupterConfig struct {
	PeriodSec int `yaml:"period_sec" env:"PERIOD_SEC" default:"10" validate:"gte=1"`
}

// ActionsConfig names the gestures performed on boot and shutdown.
type ActionsConfig struct {
	Beginning string `yaml:"beginning" env:"BEGINNING" default:"0_beginning"`
	Ending    string `yaml:"ending" env:"ENDING" default:"0_ending"`
}

// RatingConfig selects and configures the rating source.
type RatingConfig struct {
	Type  string            `yaml:"type" env:"TYPE" default:"file" validate:"oneof=file redis"`
	File  FileRatingConfig  `yaml:"file" envPrefix:"FILE_"`
	Redis RedisRatingConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// FileRatingConfig represents the detection log source.
type FileRatingConfig struct {
	Path    string `yaml:"path" env:"PATH" default:"detection_log.txt"`
	Pattern string `yaml:"pattern" env:"PATTERN"`
}

// RedisRatingConfig represents the redis source.
type RedisRatingConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" default:"localhost:6379"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" validate:"gte=0"`
	Key      string `yaml:"key" env:"KEY" default:"focuslamp:rating"`
}

// HistoryConfig represents the session history store. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML data, then applies environment
// overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment overrides")
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.SessionParams().Validate(); err != nil {
		return err
	}

	switch c.Rating.Type {
	case RatingFile:
		if c.Rating.File.Path == "" {
			return errors.New("rating.file.path is required for the file rating source")
		}
	case RatingRedis:
		if c.Rating.Redis.Addr == "" || c.Rating.Redis.Key == "" {
			return errors.New("rating.redis.addr and rating.redis.key are required for the redis rating source")
		}
	}

	return nil
}

// SessionParams returns the configured default session parameters.
func (c *Config) SessionParams() schedule.Params {
	return schedule.Params{
		StartHour:            c.Session.StartHour,
		StartMinute:          c.Session.StartMinute,
		TotalDurationMinutes: c.Session.TotalDurationMinutes,
		FatigueLevel:         c.Session.FatigueLevel,
		FocusMode:            c.Session.FocusMode,
	}
}

// SamplingPeriod returns the rating sampling period.
func (c *Config) SamplingPeriod() time.Duration {
	return time.Duration(c.Interrupter.PeriodSec) * time.Second
}

// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/sweeney/press-sensor/internal/gpio"
	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/mqtt"
	"github.com/sweeney/press-sensor/internal/registry"
	"github.com/sweeney/press-sensor/internal/store"
)

// Rate strategy names.
const (
	StrategyWindowed      = "windowed"
	StrategyInstantaneous = "instantaneous"
	StrategyMean          = "mean"
)

// Retention kinds.
const (
	RetentionFixed = "fixed"
	RetentionDay   = "day"
)

// Config is the full daemon configuration.
type Config struct {
	Machine  Machine         `yaml:"machine"`
	Engine   Engine          `yaml:"engine"`
	GPIO     gpio.Config     `yaml:"gpio"`
	Upload   Upload          `yaml:"upload"`
	MQTT     MQTT            `yaml:"mqtt"`
	Postgres store.Config    `yaml:"postgres"`
	Redis    registry.Config `yaml:"redis"`
	Device   Device          `yaml:"device"`
	HTTP     HTTP            `yaml:"http"`
	Logging  Logging         `yaml:"logging"`
}

// Machine controls idle detection.
type Machine struct {
	// OffCutoff is how long without a hit before the press counts as down.
	OffCutoff time.Duration `yaml:"off_cutoff"`
	// IdleTick is how often idle detection and eviction run.
	IdleTick time.Duration `yaml:"idle_tick"`
}

// Rate selects a rate strategy.
type Rate struct {
	Strategy string        `yaml:"strategy"`
	Window   time.Duration `yaml:"window"`
}

// Retention selects the history retention policy.
type Retention struct {
	Kind   string        `yaml:"kind"`
	Window time.Duration `yaml:"window"`
}

// Engine configures the processor.
type Engine struct {
	ShortRate   Rate      `yaml:"short_rate"`
	LongRate    Rate      `yaml:"long_rate"`
	Retention   Retention `yaml:"retention"`
	Transitions string    `yaml:"transitions"`
}

// Upload configures the periodic uploader.
type Upload struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MQTT is the broker configuration plus the heartbeat period.
type MQTT struct {
	mqtt.Config `yaml:",inline"`
	// Heartbeat of 0 disables heartbeats.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Device is the registration used when the registry is unavailable.
type Device struct {
	Location  string `yaml:"location"`
	Equipment string `yaml:"equipment"`
	Timezone  string `yaml:"timezone"`
}

// HTTP configures the status server. An empty Addr disables it.
type HTTP struct {
	Addr      string `yaml:"addr"`
	AccessLog bool   `yaml:"access_log"`
}

// Logging configures the default logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Machine: Machine{
			OffCutoff: 10 * time.Second,
			IdleTick:  5 * time.Second,
		},
		Engine: Engine{
			ShortRate:   Rate{Strategy: StrategyWindowed, Window: 2 * time.Minute},
			LongRate:    Rate{Strategy: StrategyWindowed, Window: time.Hour},
			Retention:   Retention{Kind: RetentionFixed, Window: 3 * time.Hour},
			Transitions: string(logic.TransitionsDownOnly),
		},
		GPIO: gpio.Config{
			Chip:     "gpiochip0",
			Pin:      gpio.DefaultPin,
			Debounce: 5 * time.Millisecond,
		},
		Upload: Upload{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		MQTT: MQTT{
			Config: mqtt.Config{
				Broker:     "tcp://localhost:1883",
				ClientID:   "press-sensor",
				BufferSize: 500,
				Timeout:    5 * time.Second,
			},
			Heartbeat: 15 * time.Minute,
		},
		Postgres: store.Config{
			MaxOpenConns:  2,
			RetryInterval: 15 * time.Second,
		},
		Device: Device{
			Location:  registry.DefaultLocation,
			Equipment: registry.DefaultEquipment,
			Timezone:  registry.DefaultTimezone,
		},
		HTTP:    HTTP{Addr: ":80"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. ${VAR} references are
// expanded from the environment first. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse expands environment references in data and decodes it into cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Machine.OffCutoff <= 0 {
		errs = append(errs, errors.New("machine.off_cutoff must be positive"))
	}
	if c.Machine.IdleTick <= 0 {
		errs = append(errs, errors.New("machine.idle_tick must be positive"))
	}
	if c.Upload.Interval <= 0 {
		errs = append(errs, errors.New("upload.interval must be positive"))
	}
	if c.GPIO.Pin < 0 {
		errs = append(errs, errors.New("gpio.pin must not be negative"))
	}
	if c.MQTT.Heartbeat < 0 {
		errs = append(errs, errors.New("mqtt.heartbeat must not be negative"))
	}
	if _, err := c.shortRate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.longRate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.retention(time.UTC); err != nil {
		errs = append(errs, err)
	}
	switch logic.TransitionMode(c.Engine.Transitions) {
	case logic.TransitionsDownOnly, logic.TransitionsBoth:
	default:
		errs = append(errs, fmt.Errorf("engine.transitions: unknown mode %q", c.Engine.Transitions))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Processor builds the engine configuration for a device in loc.
func (c Config) Processor(loc *time.Location) (logic.Config, error) {
	short, err := c.shortRate()
	if err != nil {
		return logic.Config{}, err
	}
	long, err := c.longRate()
	if err != nil {
		return logic.Config{}, err
	}
	ret, err := c.retention(loc)
	if err != nil {
		return logic.Config{}, err
	}
	return logic.Config{
		Location:    loc,
		Retention:   ret,
		ShortRate:   short,
		LongRate:    long,
		Transitions: logic.TransitionMode(c.Engine.Transitions),
	}, nil
}

func (c Config) shortRate() (logic.RateStrategy, error) {
	r := c.Engine.ShortRate
	switch r.Strategy {
	case StrategyWindowed:
		if r.Window <= 0 {
			return nil, errors.New("engine.short_rate.window must be positive")
		}
		return logic.WindowedCount{Window: r.Window}, nil
	case StrategyInstantaneous:
		return logic.Instantaneous{}, nil
	}
	return nil, fmt.Errorf("engine.short_rate: unknown strategy %q", r.Strategy)
}

func (c Config) longRate() (logic.RateStrategy, error) {
	r := c.Engine.LongRate
	switch r.Strategy {
	case StrategyWindowed:
		if r.Window <= 0 {
			return nil, errors.New("engine.long_rate.window must be positive")
		}
		return logic.WindowedCount{Window: r.Window}, nil
	case StrategyMean:
		return logic.RunningMean{}, nil
	}
	return nil, fmt.Errorf("engine.long_rate: unknown strategy %q", r.Strategy)
}

func (c Config) retention(loc *time.Location) (logic.Retention, error) {
	r := c.Engine.Retention
	switch r.Kind {
	case RetentionFixed:
		if r.Window <= 0 {
			return nil, errors.New("engine.retention.window must be positive")
		}
		return logic.FixedRetention{Window: r.Window}, nil
	case RetentionDay:
		return logic.DayRetention{Location: loc}, nil
	}
	return nil, fmt.Errorf("engine.retention: unknown kind %q", r.Kind)
}

// LogLevel parses Logging.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Logging.Level))); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}

// DeviceDefaults is the fallback registration.
func (c Config) DeviceDefaults() registry.Device {
	return registry.Device{
		Location:  c.Device.Location,
		Equipment: c.Device.Equipment,
		Timezone:  c.Device.Timezone,
	}
}

// String describes the rate setting for display.
func (r Rate) String() string {
	if r.Strategy == StrategyWindowed {
		return r.Strategy + " " + r.Window.String()
	}
	return r.Strategy
}

// String describes the retention policy for display.
func (r Retention) String() string {
	if r.Kind == RetentionFixed {
		return r.Kind + " " + r.Window.String()
	}
	return r.Kind
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/press-sensor/internal/logic"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Machine.OffCutoff)
	assert.Equal(t, 5*time.Second, cfg.Machine.IdleTick)
	assert.Equal(t, 30*time.Second, cfg.Upload.Interval)
	assert.Equal(t, 6, cfg.GPIO.Pin)
	assert.Equal(t, "US/Eastern", cfg.Device.Timezone)
	assert.Equal(t, 15*time.Minute, cfg.MQTT.Heartbeat)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "press.yaml", `
machine:
  off_cutoff: 20s
engine:
  short_rate:
    strategy: instantaneous
  long_rate:
    strategy: mean
  retention:
    kind: day
  transitions: both
gpio:
  pin: 17
  pull_up: true
mqtt:
  broker: tcp://10.0.0.5:1883
  heartbeat: 0s
postgres:
  url: postgres://press@db/press
http:
  addr: ":8080"
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Machine.OffCutoff)
	assert.Equal(t, 5*time.Second, cfg.Machine.IdleTick, "unset keys keep defaults")
	assert.Equal(t, StrategyInstantaneous, cfg.Engine.ShortRate.Strategy)
	assert.Equal(t, RetentionDay, cfg.Engine.Retention.Kind)
	assert.Equal(t, 17, cfg.GPIO.Pin)
	assert.True(t, cfg.GPIO.PullUp)
	assert.Equal(t, "tcp://10.0.0.5:1883", cfg.MQTT.Broker)
	assert.Equal(t, "press-sensor", cfg.MQTT.ClientID)
	assert.Zero(t, cfg.MQTT.Heartbeat)
	assert.Equal(t, "postgres://press@db/press", cfg.Postgres.URL)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("PRESS_REDIS_URL", "redis://cache:6379/2")
	path := writeFile(t, "press.yaml", "redis:\n  url: ${PRESS_REDIS_URL}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "press.yaml", "machine:\n  offcutoff: 5s\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"off cutoff", func(c *Config) { c.Machine.OffCutoff = 0 }, "machine.off_cutoff"},
		{"idle tick", func(c *Config) { c.Machine.IdleTick = -time.Second }, "machine.idle_tick"},
		{"upload interval", func(c *Config) { c.Upload.Interval = 0 }, "upload.interval"},
		{"short strategy", func(c *Config) { c.Engine.ShortRate.Strategy = "mean" }, "engine.short_rate"},
		{"short window", func(c *Config) { c.Engine.ShortRate.Window = 0 }, "engine.short_rate.window"},
		{"long strategy", func(c *Config) { c.Engine.LongRate.Strategy = "instantaneous" }, "engine.long_rate"},
		{"retention kind", func(c *Config) { c.Engine.Retention.Kind = "week" }, "engine.retention"},
		{"retention window", func(c *Config) { c.Engine.Retention.Window = 0 }, "engine.retention.window"},
		{"transitions", func(c *Config) { c.Engine.Transitions = "up" }, "engine.transitions"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"heartbeat", func(c *Config) { c.MQTT.Heartbeat = -time.Minute }, "mqtt.heartbeat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Machine.OffCutoff = 0
	cfg.Upload.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "machine.off_cutoff")
	assert.Contains(t, err.Error(), "upload.interval")
}

func TestProcessorConfig(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)

	pc, err := Default().Processor(loc)
	require.NoError(t, err)
	assert.Equal(t, loc, pc.Location)
	assert.Equal(t, logic.FixedRetention{Window: 3 * time.Hour}, pc.Retention)
	assert.Equal(t, logic.WindowedCount{Window: 2 * time.Minute}, pc.ShortRate)
	assert.Equal(t, logic.WindowedCount{Window: time.Hour}, pc.LongRate)
	assert.Equal(t, logic.TransitionsDownOnly, pc.Transitions)

	cfg := Default()
	cfg.Engine.ShortRate.Strategy = StrategyInstantaneous
	cfg.Engine.LongRate.Strategy = StrategyMean
	cfg.Engine.Retention.Kind = RetentionDay

	pc, err = cfg.Processor(loc)
	require.NoError(t, err)
	assert.Equal(t, logic.Instantaneous{}, pc.ShortRate)
	assert.Equal(t, logic.RunningMean{}, pc.LongRate)
	assert.Equal(t, logic.DayRetention{Location: loc}, pc.Retention)

	_, err = logic.NewProcessor(pc, time.Now())
	assert.NoError(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "PRESS_TEST_DOTENV=from-file\n")
	t.Setenv("PRESS_TEST_DOTENV", "")
	os.Unsetenv("PRESS_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("PRESS_TEST_DOTENV"))
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestDisplayStrings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "windowed 2m0s", cfg.Engine.ShortRate.String())
	assert.Equal(t, "fixed 3h0m0s", cfg.Engine.Retention.String())
	assert.Equal(t, "mean", Rate{Strategy: StrategyMean}.String())
	assert.Equal(t, "day", Retention{Kind: RetentionDay}.String())
}

func TestDeviceDefaults(t *testing.T) {
	d := Default().DeviceDefaults()
	assert.Equal(t, "default", d.Location)
	assert.Equal(t, "default", d.Equipment)
	assert.Equal(t, "US/Eastern", d.Timezone)
}

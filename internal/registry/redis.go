package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash field names, shared with the fleet tooling that edits registrations.
const (
	fieldLocation  = "unit_location"
	fieldEquipment = "unit_equipment"
	fieldTimezone  = "unit_timezone"
)

// hashClient is the subset of redis.Cmdable the registry uses.
type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Redis resolves devices from hashes stored under devices:<hardware id>.
type Redis struct {
	rdb      hashClient
	closer   func() error
	defaults Device
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, defaults Device) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{rdb: rdb, closer: rdb.Close, defaults: defaults}, nil
}

func newRedisWithClient(c hashClient, defaults Device) *Redis {
	return &Redis{rdb: c, defaults: defaults}
}

func deviceKey(hardwareID string) string {
	return "devices:" + hardwareID
}

// Resolve implements Resolver. Missing fields fall back to "N/A"; a missing
// hash is created with the defaults.
func (r *Redis) Resolve(ctx context.Context, hardwareID string) (Device, error) {
	key := deviceKey(hardwareID)

	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Device{}, fmt.Errorf("hgetall %s: %w", key, err)
	}

	if len(fields) > 0 {
		d := Device{
			HardwareID: hardwareID,
			Location:   valueOr(fields, fieldLocation, "N/A"),
			Equipment:  valueOr(fields, fieldEquipment, "N/A"),
			Timezone:   valueOr(fields, fieldTimezone, "N/A"),
		}
		slog.Info("device found", "id", hardwareID, "location", d.Location, "equipment", d.Equipment, "timezone", d.Timezone)
		return d, nil
	}

	d, _ := Static{Device: r.defaults}.Resolve(ctx, hardwareID)
	if err := r.rdb.HSet(ctx, key,
		fieldLocation, d.Location,
		fieldEquipment, d.Equipment,
		fieldTimezone, d.Timezone,
	).Err(); err != nil {
		return Device{}, fmt.Errorf("hset %s: %w", key, err)
	}
	slog.Info("device not found, registered defaults", "id", hardwareID, "location", d.Location, "equipment", d.Equipment)
	return d, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func valueOr(m map[string]string, k, def string) string {
	if v, ok := m[k]; ok && v != "" {
		return v
	}
	return def
}

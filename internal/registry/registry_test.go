package registry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHash struct {
	data    map[string]map[string]string
	getErr  error
	setErr  error
	setKeys []string
}

func newFakeHash() *fakeHash {
	return &fakeHash{data: map[string]map[string]string{}}
}

func (f *fakeHash) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	if f.getErr != nil {
		return redis.NewMapStringStringResult(nil, f.getErr)
	}
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.setErr != nil {
		return redis.NewIntResult(0, f.setErr)
	}
	f.setKeys = append(f.setKeys, key)
	h := f.data[key]
	if h == nil {
		h = map[string]string{}
		f.data[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func TestRedisResolveExisting(t *testing.T) {
	fh := newFakeHash()
	fh.data["devices:aa:bb:cc:dd:ee:ff"] = map[string]string{
		"unit_location":  "Mural",
		"unit_equipment": "Press_Test",
		"unit_timezone":  "America/Chicago",
	}
	r := newRedisWithClient(fh, Device{})

	d, err := r.Resolve(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", d.HardwareID)
	assert.Equal(t, "Mural", d.Location)
	assert.Equal(t, "Press_Test", d.Equipment)
	assert.Equal(t, "America/Chicago", d.Timezone)
	assert.Empty(t, fh.setKeys, "existing device must not be rewritten")
}

func TestRedisResolveMissingFields(t *testing.T) {
	fh := newFakeHash()
	fh.data["devices:x"] = map[string]string{"unit_location": "Plant 2"}
	r := newRedisWithClient(fh, Device{})

	d, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, "Plant 2", d.Location)
	assert.Equal(t, "N/A", d.Equipment)
	assert.Equal(t, "N/A", d.Timezone)
}

func TestRedisResolveRegistersDefaults(t *testing.T) {
	fh := newFakeHash()
	r := newRedisWithClient(fh, Device{})

	d, err := r.Resolve(context.Background(), "new")
	require.NoError(t, err)

	assert.Equal(t, Device{HardwareID: "new", Location: DefaultLocation, Equipment: DefaultEquipment, Timezone: DefaultTimezone}, d)
	require.Equal(t, []string{"devices:new"}, fh.setKeys)
	assert.Equal(t, map[string]string{
		"unit_location":  DefaultLocation,
		"unit_equipment": DefaultEquipment,
		"unit_timezone":  DefaultTimezone,
	}, fh.data["devices:new"])

	// Second lookup finds the registration instead of writing again.
	_, err = r.Resolve(context.Background(), "new")
	require.NoError(t, err)
	assert.Len(t, fh.setKeys, 1)
}

func TestRedisResolveConfiguredDefaults(t *testing.T) {
	fh := newFakeHash()
	r := newRedisWithClient(fh, Device{Location: "Mural", Timezone: "UTC"})

	d, err := r.Resolve(context.Background(), "new")
	require.NoError(t, err)

	assert.Equal(t, "Mural", d.Location)
	assert.Equal(t, DefaultEquipment, d.Equipment)
	assert.Equal(t, "UTC", d.Timezone)
}

func TestRedisResolveErrors(t *testing.T) {
	fh := newFakeHash()
	fh.getErr = errors.New("connection refused")
	r := newRedisWithClient(fh, Device{})

	_, err := r.Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")

	fh.getErr = nil
	fh.setErr = errors.New("READONLY")
	_, err = r.Resolve(context.Background(), "x")
	assert.ErrorContains(t, err, "READONLY")
}

func TestStaticResolve(t *testing.T) {
	d, err := Static{Device: Device{Location: "Mural", Equipment: "Press_1"}}.Resolve(context.Background(), "id")
	require.NoError(t, err)

	assert.Equal(t, "id", d.HardwareID)
	assert.Equal(t, "Mural", d.Location)
	assert.Equal(t, "Press_1", d.Equipment)
	assert.Equal(t, DefaultTimezone, d.Timezone)
}

func TestDeviceTimeLocation(t *testing.T) {
	loc, err := Device{Timezone: "UTC"}.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	loc, err = Device{}.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = Device{Timezone: "N/A"}.TimeLocation()
	assert.Error(t, err)
}

func TestPickHardwareID(t *testing.T) {
	mac, _ := net.ParseMAC("DC:A6:32:01:02:03")
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
		{Name: "tun0", Flags: net.FlagUp},
		{Name: "eth0", Flags: net.FlagUp, HardwareAddr: mac},
	}

	id, err := pickHardwareID(ifaces)
	require.NoError(t, err)
	assert.Equal(t, "dc:a6:32:01:02:03", id)

	_, err = pickHardwareID(ifaces[:2])
	assert.ErrorIs(t, err, ErrNoHardwareID)
}

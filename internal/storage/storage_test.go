package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleState() models.PersistedState {
	base, unit, maxPos, lastWeek, basePos := 3.912, 1000, 40000, 20000, 20000
	return models.PersistedState{
		BasePrice:        &base,
		GridUnit:         &unit,
		MaxPosition:      &maxPos,
		LastWeekPosition: &lastWeek,
		BasePosition:     &basePos,
		FilledOrderIDs:   []string{"a", "b"},
		TradeWeekSet:     []string{"2024_18", "2024_19"},
	}
}

func TestJSONStorage_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStorage(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	_, err = s.LoadState(ctx, "510300.SS")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveState(ctx, "510300.SS", sampleState()))
	_, err = os.Stat(s.Path("510300.SS") + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file is renamed away")

	got, err := s.LoadState(ctx, "510300.SS")
	require.NoError(t, err)
	assert.Equal(t, sampleState(), *got)

	syms, err := s.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"510300.SS"}, syms)

	require.NoError(t, s.DeleteState(ctx, "510300.SS"))
	require.NoError(t, s.DeleteState(ctx, "510300.SS"), "deleting twice is fine")
	_, err = s.LoadState(ctx, "510300.SS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONStorage_WritesExpectedKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SaveState(ctx, "159915.SZ", sampleState()))

	raw, err := os.ReadFile(s.Path("159915.SZ"))
	require.NoError(t, err)
	for _, k := range []string{"base_price", "grid_unit", "max_position", "last_week_position",
		"base_position", "filled_order_ids", "trade_week_set"} {
		assert.Contains(t, string(raw), `"`+k+`"`)
	}
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("510300.SS"), []byte("{not json"), 0o600))

	_, err = s.LoadState(ctx, "510300.SS")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestMirroredStorage_FallsBackToParams(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files, err := NewJSONStorage(dir)
	require.NoError(t, err)
	params := NewMemoryParams()
	m := NewMirroredStorage(files, params, quietLogger())

	require.NoError(t, m.SaveState(ctx, "510300.SS", sampleState()))
	mirrored, err := params.Get(ctx, StateKey("510300.SS"))
	require.NoError(t, err)
	assert.Contains(t, mirrored, `"base_price":3.912`)

	require.NoError(t, os.Remove(files.Path("510300.SS")))
	got, err := m.LoadState(ctx, "510300.SS")
	require.NoError(t, err)
	assert.Equal(t, 3.912, *got.BasePrice)

	require.NoError(t, m.DeleteState(ctx, "510300.SS"))
	_, err = m.LoadState(ctx, "510300.SS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMirroredStorage_FilePreferred(t *testing.T) {
	ctx := context.Background()
	files, err := NewJSONStorage(t.TempDir())
	require.NoError(t, err)
	params := NewMemoryParams()
	m := NewMirroredStorage(files, params, quietLogger())

	require.NoError(t, params.Set(ctx, StateKey("510300.SS"), `{"base_price": 1.0}`))
	require.NoError(t, files.SaveState(ctx, "510300.SS", sampleState()))

	got, err := m.LoadState(ctx, "510300.SS")
	require.NoError(t, err)
	assert.Equal(t, 3.912, *got.BasePrice)
}

func TestMirroredStorage_SaveErrorsJoin(t *testing.T) {
	ctx := context.Background()
	mock := NewMockStorage()
	mock.SetSaveError(errors.New("disk full"))
	params := NewMemoryParams()
	m := NewMirroredStorage(mock, params, quietLogger())

	err := m.SaveState(ctx, "510300.SS", sampleState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, perr := params.Get(ctx, StateKey("510300.SS"))
	assert.NoError(t, perr, "mirror is written even when the file fails")
}

func TestMirroredStorage_NoParams(t *testing.T) {
	ctx := context.Background()
	mock := NewMockStorage()
	m := NewMirroredStorage(mock, nil, quietLogger())

	_, err := m.LoadState(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.SaveState(ctx, "x", sampleState()))
	assert.Equal(t, 1, mock.SaveCallCount())
}

func TestRedisParams_UnreachableUsesCache(t *testing.T) {
	ctx := context.Background()
	r := NewRedisParams(config.RedisConfig{Address: "127.0.0.1:1", KeyPrefix: "vagrid:"}, quietLogger())
	defer func() { _ = r.Close() }()

	assert.False(t, r.Available())
	require.NoError(t, r.Set(ctx, "state_510300.SS", "{}"))
	v, err := r.Get(ctx, "state_510300.SS")
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	require.NoError(t, r.Delete(ctx, "state_510300.SS"))
	_, err = r.Get(ctx, "state_510300.SS")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "vagrid:k", r.key("k"))
	assert.Equal(t, "vagrid:k", r.key("vagrid:k"))
}

// fakeRedis answers the handful of commands RedisParams uses and can be taken down.
type fakeRedis struct {
	redis.Cmdable
	down  bool
	data  map[string]string
	pings int
}

var errRedisDown = errors.New("connection refused")

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string]string)} }

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	f.pings++
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.down {
		return redis.NewStringResult("", errRedisDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.down {
		return redis.NewIntResult(0, errRedisDown)
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisParams_Reconnects(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.down = true
	r := NewRedisParamsWithClient(fake, "vagrid:", quietLogger())
	now := time.Now()
	r.now = func() time.Time { return now }
	require.False(t, r.Available())

	require.NoError(t, r.Set(ctx, "state_a", "1"))
	fake.data["vagrid:state_b"] = "stale"
	require.NoError(t, r.Delete(ctx, "state_b"))

	// Back up, but the next ping is throttled.
	fake.down = false
	v, err := r.Get(ctx, "state_a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.False(t, r.Available())
	assert.Equal(t, 1, fake.pings)

	now = now.Add(ReconnectInterval)
	v, err = r.Get(ctx, "state_a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.True(t, r.Available())
	assert.Equal(t, map[string]string{"vagrid:state_a": "1"}, fake.data, "offline writes replayed")

	// A failed write drops to the cache and is replayed after the next ping.
	fake.down = true
	assert.Error(t, r.Set(ctx, "state_c", "3"))
	assert.False(t, r.Available())
	require.NoError(t, r.Set(ctx, "state_d", "4"))

	fake.down = false
	now = now.Add(ReconnectInterval - time.Second)
	require.NoError(t, r.Set(ctx, "state_e", "5"))
	assert.False(t, r.Available(), "writes do not restart the retry window")

	now = now.Add(time.Second)
	require.NoError(t, r.Set(ctx, "state_e", "5"))
	assert.True(t, r.Available())
	assert.Equal(t, map[string]string{
		"vagrid:state_a": "1",
		"vagrid:state_c": "3",
		"vagrid:state_d": "4",
		"vagrid:state_e": "5",
	}, fake.data)
}

func TestNewParamStore(t *testing.T) {
	p, err := NewParamStore(config.ParamStoreConfig{Provider: "memory"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryParams{}, p)

	p, err = NewParamStore(config.ParamStoreConfig{Provider: "none"}, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewParamStore(config.ParamStoreConfig{Provider: "etcd"}, quietLogger())
	assert.Error(t, err)
}

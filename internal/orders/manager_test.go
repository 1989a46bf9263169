package orders

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/retry"
)

// MockBroker is a testify mock of broker.Broker.
type MockBroker struct {
	mock.Mock
}

var _ broker.Broker = (*MockBroker)(nil)

func (m *MockBroker) GetSnapshot(ctx context.Context, symbols []string) (map[string]models.Snapshot, error) {
	args := m.Called(ctx, symbols)
	v, _ := args.Get(0).(map[string]models.Snapshot)
	return v, args.Error(1)
}

func (m *MockBroker) GetDailyBars(ctx context.Context, symbol string, count int) ([]models.Bar, error) {
	args := m.Called(ctx, symbol, count)
	v, _ := args.Get(0).([]models.Bar)
	return v, args.Error(1)
}

func (m *MockBroker) GetPosition(ctx context.Context, symbol string) (models.Position, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(models.Position), args.Error(1)
}

func (m *MockBroker) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).([]models.Order)
	return v, args.Error(1)
}

func (m *MockBroker) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	args := m.Called(ctx, symbol)
	v, _ := args.Get(0).([]models.Order)
	return v, args.Error(1)
}

func (m *MockBroker) GetOrder(ctx context.Context, id string) (models.Order, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Order), args.Error(1)
}

func (m *MockBroker) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side,
	qty int, price float64) (models.Order, error) {
	args := m.Called(ctx, symbol, side, qty, price)
	return args.Get(0).(models.Order), args.Error(1)
}

func (m *MockBroker) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side,
	qty int, protect float64) (models.Order, error) {
	args := m.Called(ctx, symbol, side, qty, protect)
	return args.Get(0).(models.Order), args.Error(1)
}

func (m *MockBroker) CancelOrder(ctx context.Context, id, symbol string) error {
	return m.Called(ctx, id, symbol).Error(0)
}

func (m *MockBroker) GetTrades(ctx context.Context) ([]models.Trade, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).([]models.Trade)
	return v, args.Error(1)
}

func newTestManager(b broker.Broker, cfg Config) *Manager {
	l := logrus.New()
	l.SetOutput(io.Discard)
	rc := retry.NewClient(l, retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Timeout:        time.Second,
	})
	cfg.Location = time.UTC
	return NewManager(b, rc, l, cfg)
}

func TestCancelAllForSymbol_FiltersAndRequeries(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)

	mb.On("GetAllOrders", mock.Anything).Return([]models.Order{
		{ID: "1", Symbol: "510300.XSHG", Status: models.StatusOpen},  // cancel
		{ID: "2", Symbol: "510300.SS", Status: models.StatusFilled},  // not open
		{ID: "3", Symbol: "159915.XSHE", Status: models.StatusOpen},  // other symbol
		{ID: "4", Symbol: "510300.SS", Status: models.StatusOpen},    // in filled ids
		{ID: "5", Symbol: "510300.SS", Status: models.StatusOpen},    // filled in the meantime
		{ID: "6", Symbol: "510300.SS", Status: models.StatusPartial}, // not plain open
	}, nil)
	mb.On("GetOrder", mock.Anything, "1").Return(models.Order{ID: "1", Status: models.StatusOpen}, nil)
	mb.On("GetOrder", mock.Anything, "5").Return(models.Order{ID: "5", Status: models.StatusFilled}, nil)
	mb.On("CancelOrder", mock.Anything, "1", "510300.SS").Return(nil).Once()

	n := m.CancelAllForSymbol(context.Background(), "510300.SS", models.NewIDSet("4"))

	assert.Equal(t, 1, n)
	mb.AssertExpectations(t)
	mb.AssertNotCalled(t, "GetOrder", mock.Anything, "4")
	mb.AssertNotCalled(t, "CancelOrder", mock.Anything, "5", mock.Anything)
}

func TestCancelAllForSymbol_DailyCache(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	mb.On("GetAllOrders", mock.Anything).Return([]models.Order{
		{ID: "1", Symbol: "510300.SS", Status: models.StatusOpen},
	}, nil)
	mb.On("GetOrder", mock.Anything, "1").Return(models.Order{ID: "1", Status: models.StatusOpen}, nil)
	mb.On("CancelOrder", mock.Anything, "1", "510300.SS").Return(nil)

	assert.Equal(t, 1, m.CancelAllForSymbol(context.Background(), "510300.SS", nil))
	assert.Equal(t, 0, m.CancelAllForSymbol(context.Background(), "510300.SS", nil), "same day: cached")
	mb.AssertNumberOfCalls(t, "CancelOrder", 1)

	now = now.Add(24 * time.Hour)
	assert.Equal(t, 1, m.CancelAllForSymbol(context.Background(), "510300.SS", nil), "cache resets daily")
	mb.AssertNumberOfCalls(t, "CancelOrder", 2)
}

func TestCancelAllForSymbol_ErrorsAreSwallowed(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)

	mb.On("GetAllOrders", mock.Anything).Return(nil, &broker.APIError{Status: 400, Body: "bad"})
	assert.Equal(t, 0, m.CancelAllForSymbol(context.Background(), "510300.SS", nil))

	mb2 := new(MockBroker)
	m2 := newTestManager(mb2, DefaultConfig)
	mb2.On("GetAllOrders", mock.Anything).Return([]models.Order{{ID: "9", Symbol: "510300.SS", Status: models.StatusOpen}}, nil)
	mb2.On("GetOrder", mock.Anything, "9").Return(models.Order{ID: "9", Status: models.StatusOpen}, nil)
	mb2.On("CancelOrder", mock.Anything, "9", "510300.SS").Return(broker.ErrOrderRejected)
	assert.Equal(t, 0, m2.CancelAllForSymbol(context.Background(), "510300.SS", nil))
}

func TestHasOpenOrderAt(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)
	mb.On("GetOpenOrders", mock.Anything, "510300.SS").Return([]models.Order{
		{ID: "1", Side: models.SideBuy, Price: 3.891, Status: models.StatusOpen},
	}, nil)

	ok, err := m.HasOpenOrderAt(context.Background(), "510300.SS", models.SideBuy, 3.891)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasOpenOrderAt(context.Background(), "510300.SS", models.SideSell, 3.891)
	require.NoError(t, err)
	assert.False(t, ok, "side must match")

	ok, err = m.HasOpenOrderAt(context.Background(), "510300.SS", models.SideBuy, 3.895)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaceLimitRoundsPrice(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)
	mb.On("PlaceLimitOrder", mock.Anything, "159915.SZ", models.SideSell, 500, 1.846).
		Return(models.Order{ID: "x"}, nil).Once()

	o, err := m.PlaceLimit(context.Background(), "159915.SZ", models.SideSell, 500, 1.8455)
	require.NoError(t, err)
	assert.Equal(t, "x", o.ID)
	mb.AssertExpectations(t)
}

func TestPlaceLimitSnapsToTick(t *testing.T) {
	mb := new(MockBroker)
	cfg := DefaultConfig
	cfg.TickSize = func(string) float64 { return 0.002 }
	m := newTestManager(mb, cfg)
	mb.On("PlaceLimitOrder", mock.Anything, "510300.SS", models.SideBuy, 1000, 4.004).
		Return(models.Order{ID: "y", Price: 4.004}, nil).Once()
	mb.On("GetOpenOrders", mock.Anything, "510300.SS").Return([]models.Order{
		{ID: "y", Side: models.SideBuy, Price: 4.004, Status: models.StatusOpen},
	}, nil)

	_, err := m.PlaceLimit(context.Background(), "510300.SS", models.SideBuy, 1000, 4.0033)
	require.NoError(t, err)

	ok, err := m.HasOpenOrderAt(context.Background(), "510300.SS", models.SideBuy, 4.0033)
	require.NoError(t, err)
	assert.True(t, ok, "band price is compared after snapping")
	mb.AssertExpectations(t)
}

func TestMarketWithProtect_Shanghai(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)
	mb.On("PlaceMarketOrder", mock.Anything, "510300.SS", models.SideBuy, 100, 3.902).
		Return(models.Order{}, errors.New("protect price invalid")).Once()
	mb.On("PlaceMarketOrder", mock.Anything, "510300.SS", models.SideBuy, 100, 3.903).
		Return(models.Order{ID: "m"}, nil).Once()

	assert.True(t, m.MarketWithProtect(context.Background(), "510300.SS", models.SideBuy, 100, 3.9))
	mb.AssertExpectations(t)
}

func TestMarketWithProtect_ShanghaiSellNoRetry(t *testing.T) {
	mb := new(MockBroker)
	cfg := DefaultConfig
	cfg.ProtectRetry = false
	cfg.TickSize = func(string) float64 { return 0.002 }
	m := newTestManager(mb, cfg)
	mb.On("PlaceMarketOrder", mock.Anything, "510300.SS", models.SideSell, 200, 3.996).
		Return(models.Order{}, errors.New("rejected")).Once()

	assert.False(t, m.MarketWithProtect(context.Background(), "510300.SS", models.SideSell, 200, 4.0))
	mb.AssertNumberOfCalls(t, "PlaceMarketOrder", 1)
}

func TestMarketWithProtect_ShenzhenPlain(t *testing.T) {
	mb := new(MockBroker)
	m := newTestManager(mb, DefaultConfig)
	mb.On("PlaceMarketOrder", mock.Anything, "159915.SZ", models.SideSell, 100, 0.0).
		Return(models.Order{}, errors.New("no liquidity")).Once()

	assert.False(t, m.MarketWithProtect(context.Background(), "159915.SZ", models.SideSell, 100, 1.8))
	mb.AssertNumberOfCalls(t, "PlaceMarketOrder", 1)
}

func TestProtectPrice(t *testing.T) {
	m := newTestManager(new(MockBroker), DefaultConfig)
	assert.InDelta(t, 3.902, m.ProtectPrice("510300.SS", models.SideBuy, 3.9, 0), 1e-9)
	assert.InDelta(t, 3.897, m.ProtectPrice("510300.SS", models.SideSell, 3.9, 1), 1e-9)
}

func TestNewManagerPanicsWithoutBroker(t *testing.T) {
	assert.Panics(t, func() { NewManager(nil, nil, nil) })
}

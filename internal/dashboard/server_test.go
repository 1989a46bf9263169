package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/session"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

type fakeSource struct {
	views []strategy.SymbolView
}

func (f *fakeSource) Snapshot(context.Context) []strategy.SymbolView { return f.views }

func (f *fakeSource) SymbolSnapshot(_ context.Context, symbol string) (strategy.SymbolView, error) {
	for _, v := range f.views {
		if v.Symbol == symbol {
			return v, nil
		}
	}
	return strategy.SymbolView{}, fmt.Errorf("%w: %s", strategy.ErrSymbolUnknown, symbol)
}

func newTestServer(t *testing.T, token string) (*Server, *session.Calendar) {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Broker:      config.BrokerConfig{Provider: "paper"},
	}
	require.NoError(t, cfg.Validate())
	cal := session.New(cfg)

	l := logrus.New()
	l.SetOutput(io.Discard)
	src := &fakeSource{views: []strategy.SymbolView{
		{
			Symbol: "510300.SS", Price: 4.0, BasePrice: 4.0, GridUnit: 1000, BasePosition: 20000,
			BuySpacing: 0.005, SellSpacing: 0.005,
			Position:      models.Position{Symbol: "510300.SS", Amount: 25000, Sellable: 25000, CostBasis: 3.9},
			PositionKnown: true,
		},
		{
			Symbol: "159915.SZ", Price: 1.8, BasePrice: 1.8, GridUnit: 500, BasePosition: 5000,
			Position:      models.Position{Symbol: "159915.SZ", Amount: 5000, Sellable: 5000, CostBasis: 1.9},
			PositionKnown: true,
		},
	}}
	s := NewServer(Config{Port: 0, AuthToken: token}, src, cal, l)
	return s, cal
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/symbols", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/symbols", map[string]string{"X-Auth-Token": "secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/symbols?token=secret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health", nil).Code, "health is open")
}

func TestGetSymbols(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s.Handler(), "/api/symbols", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []strategy.SymbolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "510300.SS", views[0].Symbol)
	assert.Equal(t, 25000, views[0].Position.Amount)
}

func TestGetSymbol(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s.Handler(), "/api/symbols/159915.SZ", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v strategy.SymbolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 500, v.GridUnit)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/symbols/000001.SZ", nil).Code)
}

func TestGetStats(t *testing.T) {
	s, cal := newTestServer(t, "")
	s.now = func() time.Time { return time.Date(2025, 10, 8, 10, 0, 0, 0, cal.Location()) }

	rec := get(t, s.Handler(), "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Symbols)
	assert.InDelta(t, 109000, st.MarketValue, 1e-6)
	assert.InDelta(t, 2500-500, st.UnrealizedPnL, 1e-6)
	assert.Equal(t, 25000, st.BasePositions)
	assert.Equal(t, "open", st.MarketStatus)
}

func TestMarketStatus(t *testing.T) {
	s, cal := newTestServer(t, "")
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2025, 10, 8, 9, 20, 0, 0, cal.Location()), "auction"},
		{time.Date(2025, 10, 8, 9, 27, 0, 0, cal.Location()), "pre-open"},
		{time.Date(2025, 10, 8, 13, 30, 0, 0, cal.Location()), "open"},
		{time.Date(2025, 10, 8, 12, 0, 0, 0, cal.Location()), "closed"},
		{time.Date(2025, 10, 11, 10, 0, 0, 0, cal.Location()), "closed"}, // Saturday
	}
	for _, tt := range tests {
		at := tt.at
		s.now = func() time.Time { return at }
		assert.Equal(t, tt.want, s.marketStatus(), at.String())
	}
}

func TestDashboardPage(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s.Handler(), "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "510300.SS")
	assert.Contains(t, body, "159915.SZ")
	assert.Contains(t, body, "109,000.00")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s.Handler(), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vagrid_cycle_seconds")
}

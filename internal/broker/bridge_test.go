package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/models"
)

func newTestBridge(t *testing.T, h http.HandlerFunc) *BridgeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewBridgeClient(srv.URL, "secret", time.Second, l)
}

func TestBridgeClient_GetSnapshotNormalisesSymbols(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/snapshot", r.URL.Path)
		assert.Equal(t, "510300.SS,159915.SZ", r.URL.Query().Get("symbols"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"510300.XSHG":{"last_px":3.912,"time":"2024-05-06 10:00:00"},
			"159915.XSHE":{"last_px":1.845}}`)
	})

	snaps, err := b.GetSnapshot(context.Background(), []string{"510300.SS", "159915.SZ"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.InDelta(t, 3.912, snaps["510300.SS"].Price, 1e-9)
	assert.Equal(t, 10, snaps["510300.SS"].Time.Hour())
	assert.InDelta(t, 1.845, snaps["159915.SZ"].Price, 1e-9)
}

func TestBridgeClient_GetAllOrdersParsesWireFormat(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"orders":[
			{"entrust_no":"A1","stock_code":"510300.XSHG","entrust_bs":"1","entrust_amount":100,"entrust_price":3.9,"status":"2"},
			{"entrust_no":"A2","stock_code":"510300.XSHG","entrust_bs":"2","entrust_amount":-100,"entrust_price":4.0,"business_amount":100,"status":"8"},
			{"entrust_no":"bad","stock_code":"510300.XSHG","entrust_bs":"?","status":"2"}
		]}`)
	})

	orders, err := b.GetAllOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2, "malformed rows are skipped")

	assert.Equal(t, "A1", orders[0].ID)
	assert.Equal(t, "510300.SS", orders[0].Symbol)
	assert.Equal(t, models.SideBuy, orders[0].Side)
	assert.Equal(t, models.StatusOpen, orders[0].Status)

	assert.Equal(t, models.SideSell, orders[1].Side)
	assert.Equal(t, 100, orders[1].Quantity)
	assert.Equal(t, models.StatusFilled, orders[1].Status)
	assert.Equal(t, -100, orders[1].Amount())
}

func TestBridgeClient_PlaceLimitOrder(t *testing.T) {
	var got orderRequest
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"entrust_no":"9001","stock_code":"159915.XSHE","entrust_bs":"1",
			"entrust_amount":200,"entrust_price":1.836,"status":"2"}`)
	})

	o, err := b.PlaceLimitOrder(context.Background(), "159915.SZ", models.SideBuy, 200, 1.8355)
	require.NoError(t, err)
	assert.Equal(t, "9001", o.ID)
	assert.Equal(t, "159915.SZ", o.Symbol)

	assert.Equal(t, "limit", got.Type)
	assert.Equal(t, "1", got.EntrustBS)
	assert.Equal(t, 200, got.Amount)
	assert.InDelta(t, 1.836, got.Price, 1e-9, "price is rounded to 3 decimals")
	_, err = uuid.Parse(got.ClientOrderID)
	assert.NoError(t, err, "client order id is a uuid")
}

func TestBridgeClient_PlaceMarketOrderCarriesProtect(t *testing.T) {
	var got orderRequest
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"entrust_no":"9002","stock_code":"510300.XSHG","entrust_bs":"2",
			"entrust_amount":100,"status":"8","business_amount":100}`)
	})

	_, err := b.PlaceMarketOrder(context.Background(), "510300.SS", models.SideSell, 100, 3.998)
	require.NoError(t, err)
	assert.Equal(t, "market", got.Type)
	assert.Equal(t, "2", got.EntrustBS)
	assert.InDelta(t, 3.998, got.ProtectPrice, 1e-9)
}

func TestBridgeClient_RejectedOrder(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"entrust_no":"9003","stock_code":"510300.XSHG","entrust_bs":"1",
			"entrust_amount":100,"entrust_price":3.9,"status":"9"}`)
	})

	_, err := b.PlaceLimitOrder(context.Background(), "510300.SS", models.SideBuy, 100, 3.9)
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestBridgeClient_APIErrorCarriesStatusAndBody(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "terminal offline\n")
	})

	_, err := b.GetTrades(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Contains(t, apiErr.Body, "GET /trades -> terminal offline")
}

func TestBridgeClient_GetOrderNotFound(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	_, err := b.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestBridgeClient_GetPositionMissingIsZero(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	pos, err := b.GetPosition(context.Background(), "510300.SS")
	require.NoError(t, err)
	assert.Equal(t, models.Position{Symbol: "510300.SS"}, pos)
}

func TestBridgeClient_GetOpenOrdersFiltersStatus(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		_, _ = io.WriteString(w, `{"orders":[
			{"entrust_no":"1","stock_code":"510300.SS","entrust_bs":"1","entrust_amount":100,"status":"2"},
			{"entrust_no":"2","stock_code":"510300.SS","entrust_bs":"1","entrust_amount":100,"status":"6"},
			{"entrust_no":"3","stock_code":"510300.SS","entrust_bs":"2","entrust_amount":100,"status":"7"}
		]}`)
	})

	orders, err := b.GetOpenOrders(context.Background(), "510300.SS")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "1", orders[0].ID)
	assert.Equal(t, "3", orders[1].ID)
}

func TestBridgeClient_CancelOrder(t *testing.T) {
	called := false
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/orders/77/cancel", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, b.CancelOrder(context.Background(), "77", "510300.SS"))
	assert.True(t, called)
}

func TestBridgeClient_GetDailyBars(t *testing.T) {
	b := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15", r.URL.Query().Get("count"))
		_, _ = io.WriteString(w, `{"bars":[
			{"date":"2024-05-06","open":3.9,"high":3.95,"low":3.88,"close":3.92,"volume":1000},
			{"date":"2024-05-07","open":3.92,"high":3.99,"low":3.91,"close":3.97,"volume":1200}
		]}`)
	})

	bars, err := b.GetDailyBars(context.Background(), "510300.SS", 15)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.May, bars[1].Time.Month())
	assert.InDelta(t, 3.97, bars[1].Close, 1e-9)
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Side
		wantErr bool
	}{
		{"1", models.SideBuy, false},
		{"2", models.SideSell, false},
		{"buy", models.SideBuy, false},
		{" S ", models.SideSell, false},
		{"3", "", true},
	}
	for _, tt := range tests {
		got, err := parseSide(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

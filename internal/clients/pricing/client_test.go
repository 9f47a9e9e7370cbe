package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/greekwatch/internal/modules/greeks"
)

func testPositions() []greeks.PositionInfo {
	expiry := time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC)
	return []greeks.PositionInfo{
		{PositionID: "p1", Symbol: "AAPL260417C00200000", UnderlyingSymbol: "AAPL", OptionType: greeks.OptionCall,
			Strike: decimal.NewFromInt(200), Expiry: expiry, Quantity: decimal.NewFromInt(1), Multiplier: decimal.NewFromInt(100)},
		{PositionID: "p2", Symbol: "AAPL260417P00180000", UnderlyingSymbol: "AAPL", OptionType: greeks.OptionPut,
			Strike: decimal.NewFromInt(180), Expiry: expiry, Quantity: decimal.NewFromInt(-2), Multiplier: decimal.NewFromInt(100)},
		{PositionID: "p3", Symbol: "MSFT", UnderlyingSymbol: "MSFT", OptionType: greeks.OptionCall,
			Strike: decimal.NewFromInt(400), Expiry: expiry},
	}
}

func newTestClient(url string) *Client {
	return NewClient(url+"/", time.Second, "", zerolog.New(nil).Level(zerolog.Disabled))
}

func TestClient_FetchGreeks(t *testing.T) {
	var got greeksRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/greeks", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"greeks": {
			"p1": {"delta": 0.52, "gamma": "0.021", "vega": 0.15, "theta": -0.05,
			       "implied_volatility": 0.31, "underlying_price": 201.5,
			       "as_of": "2026-03-20T14:29:00Z", "model": "black76"},
			"p2": {"delta": -0.3, "gamma": 0.01},
			"unrequested": {"delta": 1, "underlying_price": 1}
		}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	assert.Equal(t, greeks.SourceModel, client.Source())

	raws, err := client.FetchGreeks(context.Background(), testPositions())
	require.NoError(t, err)

	require.Len(t, got.Positions, 3)
	assert.Equal(t, "p1", got.Positions[0].PositionID)
	assert.Equal(t, "put", got.Positions[1].OptionType)
	assert.Equal(t, "180", got.Positions[1].Strike)
	assert.Equal(t, "2026-04-17", got.Positions[1].Expiry)

	require.Len(t, raws, 1, "incomplete and unrequested quotes are dropped")
	p1 := raws["p1"]
	assert.True(t, p1.Delta.Equal(decimal.RequireFromString("0.52")))
	assert.True(t, p1.Gamma.Equal(decimal.RequireFromString("0.021")))
	assert.True(t, p1.UnderlyingPrice.Equal(decimal.RequireFromString("201.5")))
	assert.Equal(t, time.Date(2026, 3, 20, 14, 29, 0, 0, time.UTC), p1.AsOf.UTC())
	assert.Equal(t, "black76", p1.Model)
}

func TestClient_MissingAsOfUsesFetchTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"greeks": {"p1": {"delta": 0.5, "underlying_price": 100}}}`))
	}))
	defer server.Close()

	before := time.Now().Add(-time.Second)
	raws, err := newTestClient(server.URL).FetchGreeks(context.Background(), testPositions()[:1])
	require.NoError(t, err)
	require.Contains(t, raws, "p1")
	assert.True(t, raws["p1"].AsOf.After(before))
}

func TestClient_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchGreeks(context.Background(), testPositions())
		assert.ErrorContains(t, err, "503")
		assert.ErrorContains(t, err, "model unavailable")
	})

	t.Run("bad body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchGreeks(context.Background(), testPositions())
		assert.ErrorContains(t, err, "parse")
	})

	t.Run("cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"greeks": {}}`))
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestClient(server.URL).FetchGreeks(ctx, testPositions())
		assert.Error(t, err)
	})
}

func TestClient_NoPositionsSkipsRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	raws, err := newTestClient(server.URL).FetchGreeks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, raws)
	assert.False(t, called)
}

func TestClient_NewClientDefaults(t *testing.T) {
	client := NewClient("http://pricing", 0, greeks.SourceBroker, zerolog.New(nil))
	assert.Equal(t, 10*time.Second, client.client.Timeout)
	assert.Equal(t, greeks.SourceBroker, client.Source())
}

package bitfinex

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
	"bitcoin-exchanges-go/sign"
)

var btcusd = pair.MustParse("BTC_USD")

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.VenueConfig{Key: "k", Secret: "s", BaseURL: srv.URL}, false, nil)
	c.rest.HTTPClient = srv.Client()
	return c
}

// decodePayload 从报头还原请求报文。
func decodePayload(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.Header.Get("X-BFX-PAYLOAD"))
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	return m
}

func TestPrivateHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-BFX-APIKEY") != "k" {
			t.Fatalf("apikey = %s", r.Header.Get("X-BFX-APIKEY"))
		}
		payload := r.Header.Get("X-BFX-PAYLOAD")
		if want := sign.HMACSHA384Hex([]byte("s"), []byte(payload)); r.Header.Get("X-BFX-SIGNATURE") != want {
			t.Fatalf("signature mismatch")
		}
		m := decodePayload(t, r)
		if m["request"] != "/v1/balances" || m["nonce"] == "" {
			t.Fatalf("payload = %v", m)
		}
		w.Write([]byte(`[]`))
	}))
	if _, err := c.Balance(exchange.Total); err != nil {
		t.Fatalf("Balance: %v", err)
	}
}

func TestBalanceFiltersCurrencies(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"type":"exchange","currency":"btc","amount":"2.0","available":"1.5"},
			{"type":"exchange","currency":"usd","amount":"1000.0","available":"900.0"},
			{"type":"exchange","currency":"ltc","amount":"50.0","available":"50.0"}]`))
	}))
	b, err := c.Balance(exchange.Both)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := b.Total.Get(money.BTC).Amount.String(); got != "2" {
		t.Fatalf("total BTC = %s", got)
	}
	if got := b.Available.Get(money.USD).Amount.String(); got != "900" {
		t.Fatalf("available USD = %s", got)
	}
	// ltc 不在采纳范围内
	if got := b.Total.Get(money.LTC).Amount; !got.IsZero() {
		t.Fatalf("LTC leaked into balances: %s", got)
	}
}

func TestBalanceVenueError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Could not find a key matching the given X-BFX-APIKEY."}`))
	}))
	_, err := c.Balance(exchange.Total)
	ve, ok := err.(*exchange.VenueError)
	if !ok || ve.Venue != Name {
		t.Fatalf("err = %v", err)
	}
}

func TestNonceTooSmallRetryBounded(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"message":"Nonce is too small."}`))
	}))
	if _, err := c.Balance(exchange.Total); err == nil {
		t.Fatal("want error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestOrderBookObjectItems(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/book/btcusd" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"bids":[{"price":"244.9","amount":"3.2","timestamp":"1432154000.0"}],` +
			`"asks":[{"price":"245.2","amount":"1.1","timestamp":"1432154001.0"}]}`))
	}))
	book, err := c.OrderBook(btcusd)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	bid, err := book.Bid(0)
	if err != nil {
		t.Fatalf("Bid(0): %v", err)
	}
	if bid.Price.String() != "244.9" || bid.Amount.String() != "3.2" {
		t.Fatalf("bid = %+v", bid)
	}
}

func TestTicker(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pubticker/btcusd" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"mid":"245.1","bid":"245.0","ask":"245.2","last_price":"245.1",` +
			`"low":"240.0","high":"250.0","volume":"1203.5","timestamp":"1432154000.521"}`))
	}))
	tk, err := c.Ticker(btcusd)
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if tk.Last.Currency != money.USD || tk.Volume.Currency != money.BTC {
		t.Fatalf("currencies: last=%s volume=%s", tk.Last.Currency, tk.Volume.Currency)
	}
	if tk.Timestamp.Unix() != 1432154000 {
		t.Fatalf("timestamp = %v", tk.Timestamp)
	}
}

func TestOpenOrdersFiltersSymbol(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":448364249,"symbol":"btcusd","price":"250.0","side":"sell","remaining_amount":"1.0"},
			{"id":448364250,"symbol":"ltcusd","price":"3.0","side":"buy","remaining_amount":"10.0"}]`))
	}))
	orders, err := c.OpenOrders(btcusd)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("len = %d", len(orders))
	}
	if orders[0].Side != exchange.Ask || orders[0].ID != "448364249" {
		t.Fatalf("order = %+v", orders[0])
	}
}

func TestCreateOrderFormatsThreeDecimals(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := decodePayload(t, r)
		if m["amount"] != "1.250" || m["price"] != "245.100" {
			t.Fatalf("payload = %v", m)
		}
		if m["type"] != "exchange limit" || m["symbol"] != "btcusd" {
			t.Fatalf("payload = %v", m)
		}
		w.Write([]byte(`{"order_id":448364249,"is_live":true}`))
	}))
	amt, _ := decimal.NewFromString("1.25")
	price, _ := decimal.NewFromString("245.1")
	id, err := c.CreateOrder(amt, price, exchange.Bid, btcusd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if id != "448364249" {
		t.Fatalf("id = %s", id)
	}
}

func TestCreateOrderDeadResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":448364249,"is_live":false}`))
	}))
	if _, err := c.CreateOrder(decimal.New(1, 0), decimal.New(245, 0), exchange.Bid, btcusd); err == nil {
		t.Fatal("want error for dead order")
	}
}

func TestCreateOrderBlocked(t *testing.T) {
	c := New(config.VenueConfig{}, true, nil)
	id, err := c.CreateOrder(decimal.New(1, 0), decimal.New(245, 0), exchange.Bid, btcusd)
	if err != nil || id != exchange.BlockedOrderID {
		t.Fatalf("id = %q, err = %v", id, err)
	}
}

func TestCancelOrderEcho(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := decodePayload(t, r)
		if m["order_id"] != float64(448364249) {
			t.Fatalf("order_id = %v", m["order_id"])
		}
		w.Write([]byte(`{"id":448364249,"symbol":"btcusd","is_cancelled":false}`))
	}))
	ok, err := c.CancelOrder("448364249", btcusd)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestCancelOrderAlreadyGone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Order could not be cancelled."}`))
	}))
	ok, err := c.CancelOrder("448364249", btcusd)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestCancelOrders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"All orders cancelled"}`))
	}))
	ok, err := c.CancelOrders(btcusd)
	if err != nil || !ok {
		t.Fatalf("CancelOrders = %v, %v", ok, err)
	}
}

func TestDepositAddress(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := decodePayload(t, r)
		if m["method"] != "bitcoin" || m["wallet_name"] != "exchange" {
			t.Fatalf("payload = %v", m)
		}
		w.Write([]byte(`{"result":"success","method":"bitcoin","currency":"BTC","address":"1A2B3C"}`))
	}))
	addr, err := c.DepositAddress(money.BTC)
	if err != nil || addr != "1A2B3C" {
		t.Fatalf("addr = %q, err = %v", addr, err)
	}
}

func TestNewSetsRateLimiter(t *testing.T) {
	c := New(config.VenueConfig{Key: "k", Secret: "s"}, false, nil)
	if c.rest.Limiter == nil {
		t.Fatal("rest client has no rate limiter")
	}
}

package huobi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
	"bitcoin-exchanges-go/sign"
	"bitcoin-exchanges-go/transport"
)

var btccny = pair.MustParse("BTC_CNY")

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.VenueConfig{Key: "ak", Secret: "sk", BaseURL: srv.URL}, false, nil)
	c.rest.HTTPClient = srv.Client()
	c.market.HTTPClient = srv.Client()
	return c
}

func TestSignatureExcludesSecretFromForm(t *testing.T) {
	old := nowUnix
	nowUnix = func() int64 { return 1432154000 }
	defer func() { nowUnix = old }()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("secret_key") != "" {
			t.Fatal("secret_key must not be sent")
		}
		want := sign.MD5Hex([]byte("access_key=ak&created=1432154000&method=get_account_info&secret_key=sk"))
		if got := r.PostForm.Get("sign"); got != want {
			t.Fatalf("sign = %s, want %s", got, want)
		}
		w.Write([]byte(`{"total":"1100.00","available_btc_display":"1.0000","available_cny_display":"500.00",` +
			`"frozen_btc_display":"0.5000","frozen_cny_display":"100.00"}`))
	}))
	b, err := c.Balance(exchange.Both)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := b.Total.Get(money.BTC).Amount.String(); got != "1.5" {
		t.Fatalf("total BTC = %s", got)
	}
	if got := b.Available.Get(money.CNY).Amount.String(); got != "500" {
		t.Fatalf("available CNY = %s", got)
	}
}

func TestErrorCodeTable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"fail","code":10}`))
	}))
	_, err := c.Balance(exchange.Total)
	ve, ok := err.(*exchange.VenueError)
	if !ok || ve.Venue != Name {
		t.Fatalf("err = %v", err)
	}
	if want := "There is not enough bitcoins"; !strings.Contains(ve.Message, want) {
		t.Fatalf("message = %q, want it to mention %q", ve.Message, want)
	}
}

func TestUnknownErrorCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"fail","code":9999}`))
	}))
	_, err := c.Balance(exchange.Total)
	ve, ok := err.(*exchange.VenueError)
	if !ok || !strings.Contains(ve.Message, "9999") {
		t.Fatalf("err = %v", err)
	}
}

func TestNudgeAvoidsRoundNumbers(t *testing.T) {
	cases := []struct {
		price, amount string
		side          exchange.Side
		wantPrice     string
		wantAmount    string
	}{
		{"1500", "1", exchange.Bid, "1499.99", "1.001"},
		{"1500", "1", exchange.Ask, "1500.01", "1.001"},
		{"1499.5", "1.25", exchange.Bid, "1499.5", "1.25"},
	}
	for _, tc := range cases {
		p, _ := decimal.NewFromString(tc.price)
		a, _ := decimal.NewFromString(tc.amount)
		gotP, gotA := nudge(p, a, tc.side)
		if gotP.String() != tc.wantPrice || gotA.String() != tc.wantAmount {
			t.Fatalf("nudge(%s, %s, %s) = %s, %s", tc.price, tc.amount, tc.side, gotP, gotA)
		}
	}
}

func TestCreateOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("method") != "buy" || r.PostForm.Get("coin_type") != "1" {
			t.Fatalf("form = %v", r.PostForm)
		}
		// 整数价格被下调一分
		if r.PostForm.Get("price") != "1499.99" {
			t.Fatalf("price = %s", r.PostForm.Get("price"))
		}
		w.Write([]byte(`{"result":"success","id":59614}`))
	}))
	id, err := c.CreateOrder(decimal.RequireFromString("1.5"), decimal.New(1500, 0), exchange.Bid, btccny)
	if err != nil || id != "59614" {
		t.Fatalf("id = %q, err = %v", id, err)
	}
}

func TestCreateOrderBlocked(t *testing.T) {
	c := New(config.VenueConfig{}, true, nil)
	id, err := c.CreateOrder(decimal.New(1, 0), decimal.New(1500, 0), exchange.Bid, btccny)
	if err != nil || id != exchange.BlockedOrderID {
		t.Fatalf("id = %q, err = %v", id, err)
	}
}

func TestCancelOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("id") != "59614" {
			t.Fatalf("id = %s", r.PostForm.Get("id"))
		}
		w.Write([]byte(`{"result":"success"}`))
	}))
	ok, err := c.CancelOrder("59614", btccny)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestCancelOrderGoneIsSuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"fail","code":26}`))
	}))
	ok, err := c.CancelOrder("59614", btccny)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestTickerCNY(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/staticmarket/ticker_btc_json.js" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"time":"1432154000","ticker":{"buy":1499.0,"sell":1500.5,"high":1520.0,` +
			`"low":1480.0,"last":1500.0,"vol":52000.0}}`))
	}))
	tk, err := c.Ticker(btccny)
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if tk.Bid.Currency != money.CNY || tk.Volume.Currency != money.BTC {
		t.Fatalf("currencies: bid=%s volume=%s", tk.Bid.Currency, tk.Volume.Currency)
	}
}

func TestOpenOrdersRemainingAmount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":59614,"type":1,"order_price":"1499.99","order_amount":"2.0000",` +
			`"processed_amount":"0.5000","order_time":1432154000}]`))
	}))
	orders, err := c.OpenOrders(btccny)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("len = %d", len(orders))
	}
	if orders[0].Amount.Amount.String() != "1.5" {
		t.Fatalf("remaining = %s", orders[0].Amount.Amount)
	}
	if orders[0].Side != exchange.Bid {
		t.Fatalf("side = %s", orders[0].Side)
	}
}

func TestUnsupportedPair(t *testing.T) {
	c := New(config.VenueConfig{}, false, nil)
	if _, err := c.Ticker(pair.MustParse("BTC_USD")); err == nil {
		t.Fatal("want error for unsupported pair")
	}
}

func TestNewSetsSharedRateLimiter(t *testing.T) {
	c := New(config.VenueConfig{Key: "k", Secret: "s"}, false, nil)
	if c.rest.Limiter == nil || c.market.Limiter == nil {
		t.Fatal("clients have no rate limiter")
	}
	if c.rest.Limiter != c.market.Limiter {
		t.Fatal("trade and market clients must share one bucket")
	}
}

func TestTooManyRequestsRetriedThenSucceeds(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{"result":"fail","code":47}`))
			return
		}
		w.Write([]byte(`{"total":"0.00","available_btc_display":"0.0000","available_cny_display":"0.00",` +
			`"frozen_btc_display":"0.0000","frozen_cny_display":"0.00"}`))
	}))
	if _, err := c.Balance(exchange.Both); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTooManyRequestsRetryBounded(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"result":"fail","code":47}`))
	}))
	_, err := c.Balance(exchange.Both)
	if err == nil {
		t.Fatal("want error after retry ceiling")
	}
	if !strings.Contains(err.Error(), "Too many requests") {
		t.Fatalf("err = %v", err)
	}
	if calls != transport.MaxLockRetries {
		t.Fatalf("calls = %d, want %d", calls, transport.MaxLockRetries)
	}
}

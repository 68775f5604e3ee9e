package okcoin

import (
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
	c := New(config.VenueConfig{Key: "partner-1", Secret: "s3cret", BaseURL: srv.URL}, false, nil)
	c.rest.HTTPClient = srv.Client()
	return c
}

func TestSignature(t *testing.T) {
	c := New(config.VenueConfig{Key: "partner-1", Secret: "s3cret"}, false, nil)
	got := c.signature(map[string]string{"symbol": "btc_usd", "order_id": "-1"})
	want := sign.MD5UpperHex([]byte("order_id=-1&partner=partner-1&symbol=btc_usd&secret_key=s3cret"))
	if got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}
}

func TestPrivateSendsSignedForm(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("partner") != "partner-1" {
			t.Fatalf("partner = %s", r.PostForm.Get("partner"))
		}
		want := sign.MD5UpperHex([]byte("partner=partner-1&secret_key=s3cret"))
		if got := r.PostForm.Get("sign"); got != want {
			t.Fatalf("sign = %s, want %s", got, want)
		}
		w.Write([]byte(`{"result":true,"info":{"funds":{"free":{"btc":"1.0","usd":"100.0"},` +
			`"freezed":{"btc":"0.5","usd":"50.0"}}}}`))
	}))
	b, err := c.Balance(exchange.Both)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := b.Total.Get(money.BTC).Amount.String(); got != "1.5" {
		t.Fatalf("total BTC = %s", got)
	}
	if got := b.Available.Get(money.USD).Amount.String(); got != "100" {
		t.Fatalf("available USD = %s", got)
	}
}

func TestErrorCodeBecomesVenueError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error_code":10016,"result":false}`))
	}))
	_, err := c.Balance(exchange.Total)
	ve, ok := err.(*exchange.VenueError)
	if !ok || ve.Venue != Name {
		t.Fatalf("err = %v", err)
	}
}

func TestTicker(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ticker.do" || r.URL.Query().Get("symbol") != "btc_usd" {
			t.Fatalf("url = %s", r.URL.String())
		}
		w.Write([]byte(`{"date":"1432154000","ticker":{"buy":"245.0","high":"250.0","last":"245.1",` +
			`"low":"240.0","sell":"245.2","vol":"1203.5"}}`))
	}))
	tk, err := c.Ticker(btcusd)
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	// buy/sell 直接映射 bid/ask
	if tk.Bid.Amount.String() != "245" || tk.Ask.Amount.String() != "245.2" {
		t.Fatalf("bid=%s ask=%s", tk.Bid.Amount, tk.Ask.Amount)
	}
	if tk.Volume.Currency != money.BTC {
		t.Fatalf("volume currency = %s", tk.Volume.Currency)
	}
}

func TestOpenOrders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("order_id") != "-1" {
			t.Fatalf("order_id = %s", r.PostForm.Get("order_id"))
		}
		w.Write([]byte(`{"result":true,"orders":[` +
			`{"order_id":10001,"type":"buy","price":"200.0","amount":"1.5","symbol":"btc_usd","status":0},` +
			`{"order_id":10002,"type":"sell","price":"260.0","amount":"0.5","symbol":"btc_usd","status":0}]}`))
	}))
	orders, err := c.OpenOrders(btcusd)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].Side != exchange.Bid || orders[1].Side != exchange.Ask {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestOpenOrdersEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":true,"orders":[]}`))
	}))
	orders, err := c.OpenOrders(btcusd)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("want empty, got %d", len(orders))
	}
}

func TestCreateOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("type") != "sell" || r.PostForm.Get("symbol") != "btc_usd" {
			t.Fatalf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"result":true,"order_id":10003}`))
	}))
	id, err := c.CreateOrder(decimal.New(1, 0), decimal.New(260, 0), exchange.Ask, btcusd)
	if err != nil || id != "10003" {
		t.Fatalf("id = %q, err = %v", id, err)
	}
}

func TestCreateOrderBlocked(t *testing.T) {
	c := New(config.VenueConfig{}, true, nil)
	id, err := c.CreateOrder(decimal.New(1, 0), decimal.New(260, 0), exchange.Bid, btcusd)
	if err != nil || id != exchange.BlockedOrderID {
		t.Fatalf("id = %q, err = %v", id, err)
	}
}

func TestCancelOrderEcho(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":true,"order_id":10003}`))
	}))
	ok, err := c.CancelOrder("10003", btcusd)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestCancelOrderMismatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":true,"order_id":99999}`))
	}))
	ok, err := c.CancelOrder("10003", btcusd)
	if err != nil || ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestOrderBook(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"asks":[[245.2,1.1]],"bids":[[244.9,3.2]]}`))
	}))
	book, err := c.OrderBook(btcusd)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	bid, err := book.Bid(0)
	if err != nil || bid.Price.String() != "244.9" {
		t.Fatalf("bid = %+v, %v", bid, err)
	}
}

func TestNewSetsRateLimiter(t *testing.T) {
	c := New(config.VenueConfig{Key: "k", Secret: "s"}, false, nil)
	if c.rest.Limiter == nil {
		t.Fatal("rest client has no rate limiter")
	}
}

package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
)

var btcusd = pair.Pair{Base: money.BTC, Quote: money.USD}

// wsServer 起一个假的 bitfinex v2 端点：收到订阅就确认，然后执行 script。
func wsServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		var sub struct {
			Event   string `json:"event"`
			Channel string `json:"channel"`
			Symbol  string `json:"symbol"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Event != "subscribe" || sub.Channel != "ticker" || sub.Symbol != "tBTCUSD" {
			t.Errorf("subscribe = %+v", sub)
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{
			"event": "subscribed", "channel": "ticker", "chanId": 17, "symbol": "tBTCUSD",
		}); err != nil {
			t.Errorf("write subscribed: %v", err)
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFeed(srv *httptest.Server) *BitfinexFeed {
	f := NewBitfinexFeed([]pair.Pair{btcusd}, nil)
	f.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	f.retryBackoff = 10 * time.Millisecond
	return f
}

func waitUpdate(t *testing.T, f *BitfinexFeed) TickerUpdate {
	t.Helper()
	select {
	case u, ok := <-f.Updates():
		if !ok {
			t.Fatal("updates channel closed")
		}
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update within deadline")
	}
	return TickerUpdate{}
}

func TestFeedDeliversTicker(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`[17,[244.9,10,245.1,12,0.5,0.002,245.0,1234.5,250.0,240.0]]`))
		time.Sleep(100 * time.Millisecond)
	})
	f := newTestFeed(srv)
	f.Start()
	defer f.Stop()

	u := waitUpdate(t, f)
	if u.Pair != btcusd {
		t.Fatalf("pair = %v", u.Pair)
	}
	if !u.Ticker.Bid.Amount.Equal(decimal.RequireFromString("244.9")) {
		t.Fatalf("bid = %s", u.Ticker.Bid.Amount)
	}
	if !u.Ticker.Ask.Amount.Equal(decimal.RequireFromString("245.1")) {
		t.Fatalf("ask = %s", u.Ticker.Ask.Amount)
	}
	if u.Ticker.Volume.Currency != money.BTC {
		t.Fatalf("volume currency = %s", u.Ticker.Volume.Currency)
	}
	if u.Ticker.Low.Amount.String() != "240" {
		t.Fatalf("low = %s", u.Ticker.Low.Amount)
	}
}

func TestFeedIgnoresHeartbeat(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[17,"hb"]`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`[17,[100,1,101,1,0,0,100.5,10,102,99]]`))
		time.Sleep(100 * time.Millisecond)
	})
	f := newTestFeed(srv)
	f.Start()
	defer f.Stop()

	u := waitUpdate(t, f)
	if !u.Ticker.Last.Amount.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("last = %s, heartbeat must not produce an update", u.Ticker.Last.Amount)
	}
}

func TestFeedReconnectsAndResubscribes(t *testing.T) {
	connects := make(chan struct{}, 16)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case connects <- struct{}{}:
		default:
		}
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			conn.Close()
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{
			"event": "subscribed", "channel": "ticker", "chanId": 5, "symbol": "tBTCUSD",
		})
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`[5,[1,1,2,1,0,0,1.5,3,2,1]]`))
		// 第一条行情后立刻断开，迫使客户端重连。
		conn.Close()
	}))
	defer srv.Close()

	f := newTestFeed(srv)
	f.Start()
	defer f.Stop()

	waitUpdate(t, f)
	waitUpdate(t, f)

	if got := len(connects); got < 2 {
		t.Fatalf("connects = %d, want at least 2", got)
	}
}

func TestParseTickerShortFrame(t *testing.T) {
	raw, _ := json.Marshal([]float64{1, 2, 3})
	if _, err := parseTicker(raw, btcusd); err == nil {
		t.Fatal("want error for short frame")
	}
}
